package features

// Occupancy is the raw normalized end-zone occupancy of one unit.
type Occupancy struct {
	ID    int
	Left  float64
	Right float64
}

// Attribution records which side pulled for a confirmed cliff. Exactly one
// field is set, except for a true tie where both emptied flags are set.
type Attribution struct {
	LeftEmptiedFirst   bool `json:"left_emptied_first"`
	RightEmptiedFirst  bool `json:"right_emptied_first"`
	MaybeFalsePositive bool `json:"maybe_false_positive"`
}

// emptyRun is how many consecutive zero samples mark a side as emptied.
const emptyRun = 2

// Attribute inspects the occupancy around cliffID and decides which end
// zone emptied first. history must be sorted by id.
func Attribute(history []Occupancy, cliffID, lookback, lookahead int) Attribution {
	lo := max(cliffID-lookback, 0)
	hi := cliffID + lookahead

	leftAt, rightAt := -1, -1
	leftZeros, rightZeros := 0, 0
	for pos, h := range history {
		if h.ID < lo {
			continue
		}
		if h.ID > hi {
			break
		}
		if h.Left == 0 {
			leftZeros++
			if leftZeros >= emptyRun && leftAt < 0 {
				leftAt = pos
			}
		} else {
			leftZeros = 0
		}
		if h.Right == 0 {
			rightZeros++
			if rightZeros >= emptyRun && rightAt < 0 {
				rightAt = pos
			}
		} else {
			rightZeros = 0
		}
	}

	var a Attribution
	switch {
	case leftAt >= 0 && rightAt >= 0:
		switch {
		case leftAt < rightAt:
			a.LeftEmptiedFirst = true
		case rightAt < leftAt:
			a.RightEmptiedFirst = true
		default:
			a = breakTie(history, leftAt)
		}
	case leftAt >= 0:
		a.LeftEmptiedFirst = true
	case rightAt >= 0:
		a.RightEmptiedFirst = true
	default:
		a.MaybeFalsePositive = true
	}
	return a
}

// breakTie walks back from pos to the nearest sample where one side was
// already emptier than the other.
func breakTie(history []Occupancy, pos int) Attribution {
	for i := pos - 1; i >= 0; i-- {
		h := history[i]
		if h.Left < h.Right {
			return Attribution{LeftEmptiedFirst: true}
		}
		if h.Right < h.Left {
			return Attribution{RightEmptiedFirst: true}
		}
	}
	return Attribution{LeftEmptiedFirst: true, RightEmptiedFirst: true}
}
