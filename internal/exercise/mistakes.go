package exercise

// Mistake is a form-mistake message id. The feedback package renders it.
type Mistake string

const (
	MistakeSquatDepthShallow  Mistake = "squat_depth_shallow"
	MistakeKneeAlignment      Mistake = "knee_not_aligned"
	MistakeHipsSagging        Mistake = "hips_sagging"
	MistakePushupDepthShallow Mistake = "pushup_depth_shallow"
	MistakeElbowsFlaring      Mistake = "elbows_flaring"
	MistakeHipsRisingEarly    Mistake = "hips_rising_early"
	MistakeBackNotStraight    Mistake = "back_not_straight"
)

// AllMistakes lists every mistake id the counters can report.
var AllMistakes = []Mistake{
	MistakeSquatDepthShallow,
	MistakeKneeAlignment,
	MistakeHipsSagging,
	MistakePushupDepthShallow,
	MistakeElbowsFlaring,
	MistakeHipsRisingEarly,
	MistakeBackNotStraight,
}

// mistakeSet keeps first-seen order and drops repeats.
type mistakeSet struct {
	order []Mistake
	seen  map[Mistake]struct{}
}

func (m *mistakeSet) add(id Mistake) {
	if m.seen == nil {
		m.seen = make(map[Mistake]struct{})
	}
	if _, ok := m.seen[id]; ok {
		return
	}
	m.seen[id] = struct{}{}
	m.order = append(m.order, id)
}

func (m *mistakeSet) list() []Mistake {
	out := make([]Mistake, len(m.order))
	copy(out, m.order)
	return out
}
