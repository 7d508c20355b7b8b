package mlmodel

import (
	"math"
	"math/rand"
	"sort"
)

// WeightedF1 is the support-weighted mean of per-class F1 over the classes
// present in yTrue.
func WeightedF1(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return 0
	}
	support := map[int]int{}
	for _, y := range yTrue {
		support[y]++
	}
	var total float64
	for class, n := range support {
		var tp, fp, fn int
		for i := range yTrue {
			switch {
			case yPred[i] == class && yTrue[i] == class:
				tp++
			case yPred[i] == class:
				fp++
			case yTrue[i] == class:
				fn++
			}
		}
		if tp == 0 {
			continue
		}
		precision := float64(tp) / float64(tp+fp)
		recall := float64(tp) / float64(tp+fn)
		f1 := 2 * precision * recall / (precision + recall)
		total += f1 * float64(n)
	}
	return total / float64(len(yTrue))
}

// Accuracy is the share of matching labels.
func Accuracy(yTrue, yPred []int) float64 {
	if len(yTrue) == 0 || len(yTrue) != len(yPred) {
		return 0
	}
	var ok int
	for i := range yTrue {
		if yTrue[i] == yPred[i] {
			ok++
		}
	}
	return float64(ok) / float64(len(yTrue))
}

// AUC is the area under the ROC curve via the rank statistic. It reports
// false when only one class is present.
func AUC(yTrue []int, scores []float64) (float64, bool) {
	if len(yTrue) == 0 || len(yTrue) != len(scores) {
		return 0, false
	}
	idx := make([]int, len(scores))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return scores[idx[a]] < scores[idx[b]] })

	ranks := make([]float64, len(scores))
	for i := 0; i < len(idx); {
		j := i
		for j+1 < len(idx) && scores[idx[j+1]] == scores[idx[i]] {
			j++
		}
		avg := float64(i+j)/2 + 1
		for k := i; k <= j; k++ {
			ranks[idx[k]] = avg
		}
		i = j + 1
	}

	var pos, neg int
	var rankSum float64
	for i, y := range yTrue {
		if y == 1 {
			pos++
			rankSum += ranks[i]
		} else {
			neg++
		}
	}
	if pos == 0 || neg == 0 {
		return 0, false
	}
	return (rankSum - float64(pos*(pos+1))/2) / float64(pos*neg), true
}

// StratifiedSplit returns train and test row indices with testFrac of each
// class held out. Shuffling is deterministic for a seed.
func StratifiedSplit(y []int, testFrac float64, seed int64) (train, test []int) {
	rng := rand.New(rand.NewSource(seed))
	byClass := map[int][]int{}
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	classes := make([]int, 0, len(byClass))
	for c := range byClass {
		classes = append(classes, c)
	}
	sort.Ints(classes)

	for _, c := range classes {
		rows := byClass[c]
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		nTest := int(math.Round(float64(len(rows)) * testFrac))
		if nTest == 0 && len(rows) > 1 && testFrac > 0 {
			nTest = 1
		}
		if nTest >= len(rows) && len(rows) > 1 {
			nTest = len(rows) - 1
		}
		test = append(test, rows[:nTest]...)
		train = append(train, rows[nTest:]...)
	}
	sort.Ints(train)
	sort.Ints(test)
	return train, test
}

// CrossValF1 runs stratified k-fold cross-validation and returns the mean
// and standard deviation of weighted F1. Folds are capped by the minority
// class size; fewer than two folds yields zeros.
func CrossValF1(kind Kind, x [][]float64, y []int, folds int, seed int64) (mean, std float64, err error) {
	counts := map[int]int{}
	for _, label := range y {
		counts[label]++
	}
	if len(counts) < 2 {
		return 0, 0, nil
	}
	for _, n := range counts {
		if n < folds {
			folds = n
		}
	}
	if folds < 2 {
		return 0, 0, nil
	}

	rng := rand.New(rand.NewSource(seed))
	assign := make([]int, len(y))
	byClass := map[int][]int{}
	for i, label := range y {
		byClass[label] = append(byClass[label], i)
	}
	for c := 0; c <= 1; c++ {
		rows := byClass[c]
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })
		for k, row := range rows {
			assign[row] = k % folds
		}
	}

	scores := make([]float64, 0, folds)
	for fold := 0; fold < folds; fold++ {
		var trX, teX [][]float64
		var trY, teY []int
		for i := range y {
			if assign[i] == fold {
				teX, teY = append(teX, x[i]), append(teY, y[i])
			} else {
				trX, trY = append(trX, x[i]), append(trY, y[i])
			}
		}
		m, err := Train(kind, trX, trY, seed+int64(fold))
		if err != nil {
			return 0, 0, err
		}
		probs, err := m.PredictProbaAll(teX)
		if err != nil {
			return 0, 0, err
		}
		scores = append(scores, WeightedF1(teY, Labels(probs)))
	}

	for _, s := range scores {
		mean += s
	}
	mean /= float64(len(scores))
	for _, s := range scores {
		std += (s - mean) * (s - mean)
	}
	std = math.Sqrt(std / float64(len(scores)))
	return mean, std, nil
}
