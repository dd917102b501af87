package editor

import (
	"fmt"

	"github.com/menta2k/image-annotator/pkg/types"
)

// LabelPrefix starts every label generated by the editor
const LabelPrefix = "annotation_"

// NextLabel returns the label for a newly committed shape.
//
// The candidate is annotation_<len+1>. When a set had earlier labels removed
// that candidate may already be taken, in which case the number is increased
// until a free label is found.
func NextLabel(existing types.Annotations) string {
	n := len(existing) + 1
	for {
		label := fmt.Sprintf("%s%d", LabelPrefix, n)
		if _, taken := existing[label]; !taken {
			return label
		}
		n++
	}
}
