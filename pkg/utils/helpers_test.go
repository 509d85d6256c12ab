package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCleanJSON(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                    `{"a":1}`,
		"  {\"a\":1}\n":              `{"a":1}`,
		"```json\n{\"a\":1}\n```":    `{"a":1}`,
		"```\n{\"a\":1}\n```  ":      `{"a":1}`,
		"\ufeff```json{\"a\":1}```": `{"a":1}`,
		"not json":                   "not json",
	}
	for input, want := range cases {
		assert.Equal(t, want, CleanJSON(input), "输入: %q", input)
	}
}

func TestReplaceExt(t *testing.T) {
	assert.Equal(t, "cv.png", ReplaceExt("cv.pdf", ".png"))
	assert.Equal(t, "my.cv.png", ReplaceExt("my.cv.pdf", ".png"))
	assert.Equal(t, "cv.png", ReplaceExt("cv", ".png"))
	assert.Equal(t, "resume.png", ReplaceExt("", ".png"))
}

func TestCalculateMD5(t *testing.T) {
	assert.Equal(t, "900150983cd24fb0d6963f7d28e17f72", CalculateMD5([]byte("abc")))
}
