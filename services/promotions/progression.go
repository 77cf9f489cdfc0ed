package promotions

// Class ladder: primary runs grade1 through grade6, junior runs grade7
// through grade10. A promotion moves exactly one step up the ladder;
// grade6 to grade7 is the only cross-band step and grade10 is terminal.

var classOrder = []string{
	"grade1", "grade2", "grade3", "grade4", "grade5", "grade6",
	"grade7", "grade8", "grade9", "grade10",
}

var classIndex = func() map[string]int {
	m := make(map[string]int, len(classOrder))
	for i, c := range classOrder {
		m[c] = i
	}
	return m
}()

// IsKnownClass reports whether the class name is on the ladder.
func IsKnownClass(class string) bool {
	_, ok := classIndex[class]
	return ok
}

// IsValidProgression reports whether moving from one class to another is a
// legal single-step promotion.
func IsValidProgression(from, to string) bool {
	fi, ok := classIndex[from]
	if !ok {
		return false
	}
	ti, ok := classIndex[to]
	if !ok {
		return false
	}
	return ti == fi+1
}

// NextClass returns the class one step up, or "" when the class is
// terminal or unknown.
func NextClass(from string) string {
	fi, ok := classIndex[from]
	if !ok || fi == len(classOrder)-1 {
		return ""
	}
	return classOrder[fi+1]
}
