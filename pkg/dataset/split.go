package dataset

import (
	"fmt"
	"math"
	"math/rand"
	"sort"
)

// StratifiedSplit partitions row indices into disjoint train and test sets,
// keeping the class proportions of labels in both. Each class contributes
// round(testSize*count) rows to the test set, at least one when the class has
// two or more members.
func StratifiedSplit(labels []int, testSize float64, seed int64) (train, test []int, err error) {
	if testSize <= 0 || testSize >= 1 {
		return nil, nil, fmt.Errorf("test size %.3f outside (0, 1)", testSize)
	}

	rng := rand.New(rand.NewSource(seed))

	for _, class := range Classes(labels) {
		rows := RowsOf(labels, class)
		rng.Shuffle(len(rows), func(i, j int) { rows[i], rows[j] = rows[j], rows[i] })

		nTest := int(math.Round(testSize * float64(len(rows))))
		if nTest == 0 && len(rows) > 1 {
			nTest = 1
		}
		if nTest >= len(rows) {
			nTest = len(rows) - 1
		}

		test = append(test, rows[:nTest]...)
		train = append(train, rows[nTest:]...)
	}

	sort.Ints(train)
	sort.Ints(test)
	return train, test, nil
}

// Classes returns the distinct labels in ascending order.
func Classes(labels []int) []int {
	seen := make(map[int]struct{})
	var out []int
	for _, y := range labels {
		if _, ok := seen[y]; !ok {
			seen[y] = struct{}{}
			out = append(out, y)
		}
	}
	sort.Ints(out)
	return out
}

// RowsOf returns the indices whose label equals class, ascending.
func RowsOf(labels []int, class int) []int {
	var rows []int
	for i, y := range labels {
		if y == class {
			rows = append(rows, i)
		}
	}
	return rows
}
