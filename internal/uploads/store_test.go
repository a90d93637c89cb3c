package uploads

import (
	"bytes"
	"mime/multipart"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"catchup/internal/models"
)

func fileHeader(t *testing.T, name string, content []byte) *multipart.FileHeader {
	t.Helper()
	body := &bytes.Buffer{}
	w := multipart.NewWriter(body)
	part, err := w.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(content)
	require.NoError(t, err)
	require.NoError(t, w.Close())

	req := httptest.NewRequest("POST", "/", body)
	req.Header.Set("Content-Type", w.FormDataContentType())
	require.NoError(t, req.ParseMultipartForm(1<<20))
	t.Cleanup(func() { _ = req.MultipartForm.RemoveAll() })
	return req.MultipartForm.File["file"][0]
}

func TestSecureFilename(t *testing.T) {
	cases := map[string]string{
		"notes.png":              "notes.png",
		"Lesson Notes.PDF":       "Lesson_Notes.pdf",
		"../../etc/passwd.jpg":   "etc_passwd.jpg",
		`..\..\windows\cat.jpeg`: "windows_cat.jpeg",
		"héllo wörld.png":        "hllo_wrld.png",
		"...":                    "",
	}
	for in, want := range cases {
		assert.Equal(t, want, SecureFilename(in), "input %q", in)
	}
}

func TestKindOf(t *testing.T) {
	for _, name := range []string{"a.png", "a.JPG", "a.jpeg", "b.Pdf"} {
		_, ok := KindOf(name)
		assert.True(t, ok, name)
	}
	kind, _ := KindOf("scan.PDF")
	assert.Equal(t, models.KindPDF, kind)
	kind, _ = KindOf("photo.jpg")
	assert.Equal(t, models.KindImage, kind)

	for _, name := range []string{"a.txt", "a.gif", "noext", "pdf"} {
		_, ok := KindOf(name)
		assert.False(t, ok, name)
	}
}

func TestSaveAndReleaseDeletes(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, RetainDelete, 0, nil)
	require.NoError(t, err)

	up, err := store.Save(fileHeader(t, "../Photo Of Board.PNG", []byte("img")))
	require.NoError(t, err)
	assert.Equal(t, "Photo_Of_Board.png", up.FileName)
	assert.Equal(t, filepath.Join(dir, "Photo_Of_Board.png"), up.StoredPath)
	assert.Equal(t, models.KindImage, up.Kind)
	assert.EqualValues(t, 3, up.Size)

	data, err := os.ReadFile(up.StoredPath)
	require.NoError(t, err)
	assert.Equal(t, "img", string(data))

	store.Release(up)
	_, err = os.Stat(up.StoredPath)
	assert.True(t, os.IsNotExist(err))
}

func TestSaveUniqueNames(t *testing.T) {
	store, err := NewStore(t.TempDir(), RetainKeep, time.Hour, nil)
	require.NoError(t, err)

	first, err := store.Save(fileHeader(t, "notes.pdf", []byte("1")))
	require.NoError(t, err)
	second, err := store.Save(fileHeader(t, "notes.pdf", []byte("2")))
	require.NoError(t, err)

	assert.Equal(t, "notes.pdf", first.FileName)
	assert.Equal(t, "notes (1).pdf", second.FileName)

	store.Release(first)
	_, err = os.Stat(first.StoredPath)
	assert.NoError(t, err, "keep policy must not delete on release")
}

func TestSaveRejectsUnsupported(t *testing.T) {
	store, err := NewStore(t.TempDir(), RetainDelete, 0, nil)
	require.NoError(t, err)
	_, err = store.Save(fileHeader(t, "essay.docx", []byte("x")))
	assert.ErrorIs(t, err, ErrUnsupportedKind)
}

func TestSaveFallsBackToGeneratedName(t *testing.T) {
	store, err := NewStore(t.TempDir(), RetainDelete, 0, nil)
	require.NoError(t, err)
	up, err := store.Save(fileHeader(t, "资料.pdf", []byte("%PDF")))
	require.NoError(t, err)
	assert.Equal(t, ".pdf", filepath.Ext(up.FileName))
	assert.Len(t, up.FileName, 36+len(".pdf"))
}

func TestCleanupExpired(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir, RetainKeep, time.Hour, nil)
	require.NoError(t, err)

	oldPath := filepath.Join(dir, "old.png")
	newPath := filepath.Join(dir, "new.png")
	require.NoError(t, os.WriteFile(oldPath, []byte("o"), 0o644))
	require.NoError(t, os.WriteFile(newPath, []byte("n"), 0o644))
	past := time.Now().Add(-2 * time.Hour)
	require.NoError(t, os.Chtimes(oldPath, past, past))

	removed, err := store.cleanupExpired(time.Now())
	require.NoError(t, err)
	assert.Equal(t, 1, removed)
	_, err = os.Stat(oldPath)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(newPath)
	assert.NoError(t, err)
}
