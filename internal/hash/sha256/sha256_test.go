package sha256

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHasherHashDeterministic(t *testing.T) {
	t.Parallel()

	h := New()
	want := "b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9"
	require.Equal(t, want, h.Hash([]byte("hello world")))
	require.Equal(t, h.Hash([]byte("hello world")), h.Hash([]byte("hello world")))
}

func TestHasherPageKey(t *testing.T) {
	t.Parallel()

	h := New()
	require.Equal(t, "pages/b94d27b9934d3e08a52e52d7da7dabfac484efe37a5380ee9088f7ace2efcde9.html", h.PageKey([]byte("hello world")))
	require.NotEqual(t, h.PageKey([]byte("<h1>A</h1>")), h.PageKey([]byte("<h1>B</h1>")))
}
