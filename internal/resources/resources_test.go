package resources

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/npezzotti/studyhub/internal/database"
	"github.com/npezzotti/studyhub/internal/stats"
	"github.com/npezzotti/studyhub/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newTestService(t *testing.T, db *database.MockRepository, su *stats.MockStatsUpdater) (*Service, *FileStore) {
	su.On("RegisterMetric", stats.ResourcesUploaded).Once()
	su.On("RegisterMetric", stats.ResourceDownloads).Once()

	files, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatalf("failed to create file store: %v", err)
	}

	return NewService(testutil.TestLogger(t), db, files, su), files
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()

	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := 0; x < w; x++ {
		for y := 0; y < h; y++ {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 100, A: 255})
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("failed to encode png: %v", err)
	}
	return buf.Bytes()
}

func TestAllowedType(t *testing.T) {
	tcases := []struct {
		name        string
		fileName    string
		contentType string
		expected    bool
	}{
		{name: "pdf", fileName: "notes.pdf", contentType: "application/pdf", expected: true},
		{name: "upper case extension", fileName: "NOTES.PDF", contentType: "application/pdf", expected: true},
		{name: "text with charset", fileName: "todo.txt", contentType: "text/plain; charset=utf-8", expected: true},
		{name: "jpeg as jpg", fileName: "photo.jpg", contentType: "image/jpeg", expected: true},
		{name: "powerpoint", fileName: "slides.ppt", contentType: "application/vnd.ms-powerpoint", expected: true},
		{name: "spreadsheet", fileName: "grades.xlsx", contentType: "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", expected: true},
		{name: "extension not allowed", fileName: "run.exe", contentType: "application/pdf", expected: false},
		{name: "content type not allowed", fileName: "notes.pdf", contentType: "application/x-msdownload", expected: false},
		{name: "mismatched pair", fileName: "notes.pdf", contentType: "image/png", expected: false},
		{name: "no extension", fileName: "notes", contentType: "application/pdf", expected: false},
		{name: "malformed content type", fileName: "notes.pdf", contentType: "", expected: false},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, AllowedType(tc.fileName, tc.contentType))
		})
	}
}

func TestUpload_Validation(t *testing.T) {
	tcases := []struct {
		name   string
		params UploadParams
		err    error
	}{
		{
			name:   "no file",
			params: UploadParams{},
			err:    ErrFileRequired,
		},
		{
			name: "declared size too large",
			params: UploadParams{
				FileName:    "big.pdf",
				ContentType: "application/pdf",
				Size:        MaxUploadSize + 1,
				Body:        strings.NewReader(""),
			},
			err: ErrFileTooLarge,
		},
		{
			name: "disallowed type",
			params: UploadParams{
				FileName:    "virus.exe",
				ContentType: "application/octet-stream",
				Size:        3,
				Body:        strings.NewReader("MZ!"),
			},
			err: ErrInvalidFileType,
		},
		{
			name: "unknown category",
			params: UploadParams{
				FileName:    "notes.pdf",
				ContentType: "application/pdf",
				Category:    "memes",
				Size:        3,
				Body:        strings.NewReader("pdf"),
			},
			err: ErrInvalidCategory,
		},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRepository{}
			defer db.AssertExpectations(t)
			svc, files := newTestService(t, db, &stats.MockStatsUpdater{})

			_, err := svc.Upload(context.Background(), tc.params)
			assert.ErrorIs(t, err, tc.err)

			entries, _ := os.ReadDir(files.Dir())
			assert.Len(t, entries, 1, "expected only the thumbs directory to exist")
		})
	}
}

func TestUpload_BodyExceedsLimit(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	svc, files := newTestService(t, db, &stats.MockStatsUpdater{})

	_, err := svc.Upload(context.Background(), UploadParams{
		FileName:    "big.pdf",
		ContentType: "application/pdf",
		Size:        10,
		Body:        bytes.NewReader(make([]byte, MaxUploadSize+10)),
		UploaderId:  "u1",
	})
	assert.ErrorIs(t, err, ErrFileTooLarge)

	entries, _ := os.ReadDir(files.Dir())
	assert.Len(t, entries, 1, "expected the oversized file to be removed")
}

func TestUpload_StoresDocument(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	su := &stats.MockStatsUpdater{}
	defer su.AssertExpectations(t)
	svc, files := newTestService(t, db, su)

	content := bytes.Repeat([]byte("a"), 5<<20)
	storedUrl := regexp.MustCompile(`^/uploads/\d+-[A-Za-z0-9_-]+\.pdf$`)

	var created database.CreateResourceParams
	db.On("CreateResource", mock.Anything, mock.MatchedBy(func(p database.CreateResourceParams) bool {
		created = p
		return true
	})).Return(database.Resource{Id: "r1", Downloads: 0}, nil).Once()
	su.On("Incr", stats.ResourcesUploaded).Once()

	resource, err := svc.Upload(context.Background(), UploadParams{
		FileName:     "Lecture 1.pdf",
		ContentType:  "application/pdf",
		Size:         int64(len(content)),
		Body:         bytes.NewReader(content),
		UploaderId:   "u1",
		UploaderName: "Ada",
	})
	assert.NoError(t, err, "expected no error uploading")
	assert.Equal(t, "r1", resource.Id)
	assert.Equal(t, 0, resource.Downloads, "expected downloads to start at 0")

	assert.Equal(t, "Lecture 1.pdf", created.Title, "expected title to default to the file name")
	assert.Equal(t, "Lecture 1.pdf", created.FileName)
	assert.Equal(t, DefaultCategory, created.Category)
	assert.Equal(t, ".pdf", created.FileType)
	assert.Equal(t, int64(len(content)), created.FileSize)
	assert.Regexp(t, storedUrl, created.FileUrl)
	assert.Empty(t, created.ThumbnailUrl, "expected no thumbnail for documents")
	assert.Equal(t, "u1", created.UploaderId)
	assert.Equal(t, "Ada", created.UploaderName)

	stored, err := os.ReadFile(filepath.Join(files.Dir(), path.Base(created.FileUrl)))
	assert.NoError(t, err, "expected stored file to exist")
	assert.Equal(t, len(content), len(stored))
}

func TestUpload_ImageThumbnail(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.ResourcesUploaded).Once()
	svc, files := newTestService(t, db, su)

	img := pngBytes(t, 600, 400)

	var created database.CreateResourceParams
	db.On("CreateResource", mock.Anything, mock.MatchedBy(func(p database.CreateResourceParams) bool {
		created = p
		return true
	})).Return(database.Resource{Id: "r1"}, nil).Once()

	_, err := svc.Upload(context.Background(), UploadParams{
		Title:       "Diagram",
		Category:    "notes",
		FileName:    "diagram.png",
		ContentType: "image/png",
		Size:        int64(len(img)),
		Body:        bytes.NewReader(img),
		UploaderId:  "u1",
	})
	assert.NoError(t, err, "expected no error uploading")
	assert.Equal(t, "Diagram", created.Title)
	assert.Equal(t, "notes", created.Category)
	if assert.NotEmpty(t, created.ThumbnailUrl, "expected a thumbnail url") {
		assert.True(t, strings.HasPrefix(created.ThumbnailUrl, "/uploads/thumbs/"), "unexpected thumbnail url %q", created.ThumbnailUrl)

		f, err := os.Open(filepath.Join(files.Dir(), thumbsDir, path.Base(created.ThumbnailUrl)))
		if assert.NoError(t, err, "expected thumbnail file to exist") {
			defer f.Close()
			thumb, err := jpeg.Decode(f)
			assert.NoError(t, err, "expected thumbnail to be a jpeg")
			assert.Equal(t, 300, thumb.Bounds().Dx(), "expected width to be bounded by 300")
			assert.Equal(t, 200, thumb.Bounds().Dy(), "expected aspect ratio to be kept")
		}
	}
}

func TestUpload_UndecodableImage(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.ResourcesUploaded).Once()
	svc, _ := newTestService(t, db, su)

	db.On("CreateResource", mock.Anything, mock.MatchedBy(func(p database.CreateResourceParams) bool {
		return p.ThumbnailUrl == ""
	})).Return(database.Resource{Id: "r1"}, nil).Once()

	_, err := svc.Upload(context.Background(), UploadParams{
		FileName:    "broken.png",
		ContentType: "image/png",
		Size:        4,
		Body:        strings.NewReader("nope"),
		UploaderId:  "u1",
	})
	assert.NoError(t, err, "expected upload to succeed without a thumbnail")
}

func TestUpload_StoreFailureRemovesFile(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	svc, files := newTestService(t, db, &stats.MockStatsUpdater{})

	dbErr := errors.New("db error")
	db.On("CreateResource", mock.Anything, mock.Anything).Return(database.Resource{}, dbErr).Once()

	_, err := svc.Upload(context.Background(), UploadParams{
		FileName:    "notes.txt",
		ContentType: "text/plain",
		Size:        5,
		Body:        strings.NewReader("hello"),
		UploaderId:  "u1",
	})
	assert.ErrorIs(t, err, dbErr)

	entries, _ := os.ReadDir(files.Dir())
	assert.Len(t, entries, 1, "expected stored file to be removed")
}

func TestRecordDownload(t *testing.T) {
	t.Run("counts download", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		su := &stats.MockStatsUpdater{}
		defer su.AssertExpectations(t)
		svc, _ := newTestService(t, db, su)

		db.On("IncrementDownloads", mock.Anything, "r1").Return(database.Resource{
			Id:        "r1",
			FileUrl:   "/uploads/notes.pdf",
			Downloads: 1,
		}, nil).Once()
		su.On("Incr", stats.ResourceDownloads).Once()

		resource, err := svc.RecordDownload(context.Background(), "r1")
		assert.NoError(t, err, "expected no error")
		assert.Equal(t, 1, resource.Downloads)
		assert.Equal(t, "/uploads/notes.pdf", resource.FileUrl)
	})

	t.Run("missing resource", func(t *testing.T) {
		db := &database.MockRepository{}
		defer db.AssertExpectations(t)
		svc, _ := newTestService(t, db, &stats.MockStatsUpdater{})

		db.On("IncrementDownloads", mock.Anything, "missing").Return(database.Resource{}, database.ErrNotFound).Once()

		_, err := svc.RecordDownload(context.Background(), "missing")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestDelete(t *testing.T) {
	tcases := []struct {
		name      string
		requester string
		getErr    error
		deleteErr error
		deleted   bool
		err       error
	}{
		{name: "uploader deletes", requester: "u1", deleted: true},
		{name: "other user", requester: "u2", err: ErrNotUploader},
		{name: "missing", requester: "u1", getErr: database.ErrNotFound, err: ErrNotFound},
		{name: "deleted concurrently", requester: "u1", deleteErr: database.ErrNotFound, err: ErrNotFound},
	}

	for _, tc := range tcases {
		t.Run(tc.name, func(t *testing.T) {
			db := &database.MockRepository{}
			defer db.AssertExpectations(t)
			svc, files := newTestService(t, db, &stats.MockStatsUpdater{})

			_, err := files.Save("1-abc.png", strings.NewReader("img"))
			assert.NoError(t, err, "failed to seed file")
			thumb := filepath.Join(files.Dir(), thumbsDir, "1-abc.jpg")
			assert.NoError(t, os.WriteFile(thumb, []byte("thumb"), 0o644), "failed to seed thumbnail")

			resource := database.Resource{
				Id:           "r1",
				FileUrl:      "/uploads/1-abc.png",
				ThumbnailUrl: "/uploads/thumbs/1-abc.jpg",
				UploaderId:   "u1",
			}
			db.On("GetResourceById", mock.Anything, "r1").Return(resource, tc.getErr).Once()
			if tc.getErr == nil && tc.requester == resource.UploaderId {
				db.On("DeleteResource", mock.Anything, "r1").Return(tc.deleteErr).Once()
			}

			err = svc.Delete(context.Background(), "r1", tc.requester)
			if tc.err != nil {
				assert.ErrorIs(t, err, tc.err)
			} else {
				assert.NoError(t, err, "expected no error")
			}

			_, statErr := os.Stat(filepath.Join(files.Dir(), "1-abc.png"))
			_, thumbErr := os.Stat(thumb)
			if tc.deleted {
				assert.True(t, os.IsNotExist(statErr), "expected file to be removed")
				assert.True(t, os.IsNotExist(thumbErr), "expected thumbnail to be removed")
			} else {
				assert.NoError(t, statErr, "expected file to be kept")
				assert.NoError(t, thumbErr, "expected thumbnail to be kept")
			}
		})
	}
}

func TestDelete_FileAlreadyGone(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	svc, _ := newTestService(t, db, &stats.MockStatsUpdater{})

	db.On("GetResourceById", mock.Anything, "r1").Return(database.Resource{
		Id:         "r1",
		FileUrl:    "/uploads/gone.pdf",
		UploaderId: "u1",
	}, nil).Once()
	db.On("DeleteResource", mock.Anything, "r1").Return(nil).Once()

	err := svc.Delete(context.Background(), "r1", "u1")
	assert.NoError(t, err, "expected a missing file to be tolerated")
}

func TestFileStore_PathsStayInside(t *testing.T) {
	files, err := NewFileStore(t.TempDir())
	assert.NoError(t, err)

	assert.Equal(t, filepath.Join(files.Dir(), "passwd"), files.path("../../etc/passwd"))
	assert.NoError(t, files.Remove("../../does-not-exist"))
}

func TestFileStore_SaveRefusesOverwrite(t *testing.T) {
	files, err := NewFileStore(t.TempDir())
	assert.NoError(t, err)

	_, err = files.Save("a.txt", strings.NewReader("one"))
	assert.NoError(t, err)

	_, err = files.Save("a.txt", strings.NewReader("two"))
	assert.ErrorIs(t, err, os.ErrExist)
}

// hugePNGHeader returns a PNG signature and IHDR chunk declaring a w x h RGBA
// image. No pixel data follows, so the file is tiny.
func hugePNGHeader(w, h uint32) []byte {
	var buf bytes.Buffer
	buf.WriteString("\x89PNG\r\n\x1a\n")

	ihdr := make([]byte, 13)
	binary.BigEndian.PutUint32(ihdr[0:4], w)
	binary.BigEndian.PutUint32(ihdr[4:8], h)
	ihdr[8] = 8 // bit depth
	ihdr[9] = 6 // RGBA

	chunk := append([]byte("IHDR"), ihdr...)
	binary.Write(&buf, binary.BigEndian, uint32(len(ihdr)))
	buf.Write(chunk)
	binary.Write(&buf, binary.BigEndian, crc32.ChecksumIEEE(chunk))
	return buf.Bytes()
}

func TestFileStore_ThumbnailRejectsHugeDimensions(t *testing.T) {
	files, err := NewFileStore(t.TempDir())
	assert.NoError(t, err)

	_, err = files.Save("bomb.png", bytes.NewReader(hugePNGHeader(20000, 20000)))
	assert.NoError(t, err)

	thumbName, err := files.SaveThumbnail("bomb.png")
	assert.ErrorIs(t, err, ErrImageTooLarge)
	assert.Empty(t, thumbName)

	entries, err := os.ReadDir(filepath.Join(files.Dir(), thumbsDir))
	assert.NoError(t, err)
	assert.Empty(t, entries, "expected no thumbnail to be written")
}

func TestUpload_HugeImageSkipsThumbnail(t *testing.T) {
	db := &database.MockRepository{}
	defer db.AssertExpectations(t)
	su := &stats.MockStatsUpdater{}
	su.On("Incr", stats.ResourcesUploaded).Once()
	svc, files := newTestService(t, db, su)

	body := hugePNGHeader(20000, 20000)
	db.On("CreateResource", mock.Anything, mock.MatchedBy(func(p database.CreateResourceParams) bool {
		return p.ThumbnailUrl == ""
	})).Return(database.Resource{Id: "r1"}, nil).Once()

	_, err := svc.Upload(context.Background(), UploadParams{
		FileName:    "bomb.png",
		ContentType: "image/png",
		Size:        int64(len(body)),
		Body:        bytes.NewReader(body),
		UploaderId:  "u1",
	})
	assert.NoError(t, err, "expected the upload itself to succeed")

	entries, err := os.ReadDir(filepath.Join(files.Dir(), thumbsDir))
	assert.NoError(t, err)
	assert.Empty(t, entries, "expected no thumbnail to be written")
}
