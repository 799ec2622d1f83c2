package stats

import (
	"math"

	"gonum.org/v1/gonum/integrate"
	"gonum.org/v1/gonum/stat"
)

// Classification summarizes a binary classifier against held-out labels.
type Classification struct {
	Accuracy  float64 `json:"accuracy"`
	AUC       float64 `json:"roc_auc"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
	// Confusion is [[TN, FP], [FN, TP]].
	Confusion [2][2]int `json:"confusion_matrix"`
	Samples   int       `json:"samples"`
}

// Classify scores probabilities against labels at the given threshold.
func Classify(labels []bool, probs []float64, threshold float64) Classification {
	c := Classification{Samples: len(labels)}
	if len(labels) == 0 {
		return c
	}

	var tp, fp, tn, fn int
	for i, y := range labels {
		pred := probs[i] >= threshold
		switch {
		case pred && y:
			tp++
		case pred && !y:
			fp++
		case !pred && y:
			fn++
		default:
			tn++
		}
	}
	c.Confusion = [2][2]int{{tn, fp}, {fn, tp}}
	c.Accuracy = float64(tp+tn) / float64(len(labels))
	if tp+fp > 0 {
		c.Precision = float64(tp) / float64(tp+fp)
	}
	if tp+fn > 0 {
		c.Recall = float64(tp) / float64(tp+fn)
	}
	if c.Precision+c.Recall > 0 {
		c.F1 = 2 * c.Precision * c.Recall / (c.Precision + c.Recall)
	}
	c.AUC = AUC(labels, probs)
	return c
}

// AUC is the area under the ROC curve. With a single class present it is
// undefined and 0.5 is returned.
func AUC(labels []bool, probs []float64) float64 {
	var pos int
	for _, y := range labels {
		if y {
			pos++
		}
	}
	if pos == 0 || pos == len(labels) {
		return 0.5
	}

	y := append([]float64(nil), probs...)
	classes := append([]bool(nil), labels...)
	stat.SortWeightedLabeled(y, classes, nil)
	tpr, fpr, _ := stat.ROC(nil, y, classes, nil)
	auc := integrate.Trapezoidal(fpr, tpr)
	if math.IsNaN(auc) {
		return 0.5
	}
	return auc
}
