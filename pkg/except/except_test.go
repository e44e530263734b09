package except

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSingleParentAncestors(t *testing.T) {
	r := NewRegistry()
	r.RegisterClass("IOError", "")
	r.RegisterClass("FileNotFound", "IOError")
	r.RegisterClass("PermissionDenied", "IOError")

	assert.ElementsMatch(t, []string{"IOError"}, r.AncestorTags("FileNotFound"))
	assert.True(t, r.IsA("FileNotFound", "IOError"))
	assert.False(t, r.IsA("PermissionDenied", "FileNotFound"))
}

func TestTransitiveAncestorsFlatten(t *testing.T) {
	r := NewRegistry()
	r.RegisterClass("Error", "")
	r.RegisterClass("IOError", "Error")
	r.RegisterClass("FileNotFound", "IOError")

	assert.ElementsMatch(t, []string{"IOError", "Error"}, r.AncestorTags("FileNotFound"))
	assert.True(t, r.IsA("FileNotFound", "Error"))
}

func TestCandidateTagsOrderedMostSpecificFirst(t *testing.T) {
	r := NewRegistry()
	r.RegisterClass("Error", "")
	r.RegisterClass("IOError", "Error")
	r.RegisterClass("FileNotFound", "IOError")

	cands := r.CandidateTags("FileNotFound")
	assert.Equal(t, "FileNotFound", cands[0])
	assert.Contains(t, cands, "IOError")
	assert.Contains(t, cands, "Error")
}

func TestBuiltinTagsHaveNoAncestorsByDefault(t *testing.T) {
	r := NewRegistry()
	assert.Empty(t, r.AncestorTags(TagTypeError))
	assert.True(t, r.IsA(TagTypeError, TagTypeError))
}

func TestExceptionErrorString(t *testing.T) {
	e := &Exception{Tag: "Oops"}
	assert.Equal(t, "Oops", e.Error())
	e.Message = "bad thing"
	assert.Equal(t, "Oops: bad thing", e.Error())
}
