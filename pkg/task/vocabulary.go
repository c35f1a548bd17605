package task

import (
	"fmt"
	"strings"

	"github.com/gwillem/rcteleop/pkg/rover"
)

// None is the sentinel target a parser returns when nothing in the
// vocabulary matches the task.
const None = "none"

// cocoClasses are the labels of the COCO detection set.
var cocoClasses = []string{
	"person", "bicycle", "car", "motorcycle", "airplane", "bus", "train", "truck",
	"boat", "traffic light", "fire hydrant", "stop sign", "parking meter", "bench",
	"bird", "cat", "dog", "horse", "sheep", "cow", "elephant", "bear", "zebra",
	"giraffe", "backpack", "umbrella", "handbag", "tie", "suitcase", "frisbee",
	"skis", "snowboard", "sports ball", "kite", "baseball bat", "baseball glove",
	"skateboard", "surfboard", "tennis racket", "bottle", "wine glass", "cup",
	"fork", "knife", "spoon", "bowl", "banana", "apple", "sandwich", "orange",
	"broccoli", "carrot", "hot dog", "pizza", "donut", "cake", "chair", "couch",
	"potted plant", "bed", "dining table", "toilet", "tv", "laptop", "mouse",
	"remote", "keyboard", "cell phone", "microwave", "oven", "toaster", "sink",
	"refrigerator", "book", "clock", "vase", "scissors", "teddy bear", "hair drier",
	"toothbrush",
}

// Vocabulary is a closed set of labels the detector knows.
type Vocabulary struct {
	labels []string
	index  map[string]bool
}

// NewVocabulary builds a vocabulary from labels, ignoring articles and case.
func NewVocabulary(labels []string) *Vocabulary {
	v := &Vocabulary{index: make(map[string]bool, len(labels))}
	for _, l := range labels {
		n := rover.NormalizeLabel(l)
		if n == "" || v.index[n] {
			continue
		}
		v.index[n] = true
		v.labels = append(v.labels, n)
	}
	return v
}

// COCO returns the 80-class COCO vocabulary.
func COCO() *Vocabulary {
	return NewVocabulary(cocoClasses)
}

// Labels returns the labels in their original order.
func (v *Vocabulary) Labels() []string {
	return append([]string(nil), v.labels...)
}

// Contains reports whether label (with or without an article) is known.
func (v *Vocabulary) Contains(label string) bool {
	return v.index[rover.NormalizeLabel(label)]
}

// Validate checks a parser result against the vocabulary. A "none"
// target or any unknown label fails with rover.ErrParse.
func (v *Vocabulary) Validate(r rover.TaskResult) error {
	target := rover.NormalizeLabel(r.Target)
	if target == "" || target == None {
		return fmt.Errorf("%w: no target in vocabulary", rover.ErrParse)
	}
	if !v.Contains(target) {
		return fmt.Errorf("%w: target %q not in vocabulary", rover.ErrParse, r.Target)
	}
	var unknown []string
	for _, o := range r.Obstacles {
		if !v.Contains(o) {
			unknown = append(unknown, o)
		}
	}
	if len(unknown) > 0 {
		return fmt.Errorf("%w: obstacles not in vocabulary: %s", rover.ErrParse, strings.Join(unknown, ", "))
	}
	return nil
}
