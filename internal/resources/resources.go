// Package resources handles shared study files: upload validation, storage,
// download counting and removal.
package resources

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"path"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/npezzotti/studyhub/internal/database"
	"github.com/npezzotti/studyhub/internal/stats"
	"github.com/teris-io/shortid"
)

const (
	// MaxUploadSize is the largest accepted file, in bytes.
	MaxUploadSize   = 10 << 20
	DefaultCategory = "other"

	// URLPrefix is where stored files are served from.
	URLPrefix = "/uploads/"
)

var Categories = []string{"notes", "assignment", "book", "video", "other"}

// allowedTypes maps each accepted extension to the content types a client
// may declare for it.
var allowedTypes = map[string][]string{
	".pdf":  {"application/pdf"},
	".doc":  {"application/msword"},
	".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document"},
	".txt":  {"text/plain"},
	".png":  {"image/png"},
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".ppt":  {"application/vnd.ms-powerpoint"},
	".pptx": {"application/vnd.openxmlformats-officedocument.presentationml.presentation"},
	".xls":  {"application/vnd.ms-excel"},
	".xlsx": {"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"},
}

var thumbnailTypes = []string{".png", ".jpg", ".jpeg"}

var (
	ErrFileRequired    = errors.New("no file uploaded")
	ErrFileTooLarge    = errors.New("file exceeds the 10MB limit")
	ErrInvalidFileType = errors.New("invalid file type, allowed: PDF, DOC, DOCX, TXT, images, PPT, Excel")
	ErrInvalidCategory = errors.New("invalid resource category")
	ErrNotUploader     = errors.New("not authorized to delete this resource")

	ErrNotFound = database.ErrNotFound
)

// AllowedType reports whether both the extension of fileName and the declared
// content type are on the allow-list, and agree with each other.
func AllowedType(fileName, contentType string) bool {
	types, ok := allowedTypes[strings.ToLower(filepath.Ext(fileName))]
	if !ok {
		return false
	}

	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}

	return slices.Contains(types, strings.ToLower(mediaType))
}

type Service struct {
	log   *log.Logger
	db    database.Repository
	files *FileStore
	stats stats.StatsProvider
}

func NewService(logger *log.Logger, db database.Repository, files *FileStore, su stats.StatsProvider) *Service {
	su.RegisterMetric(stats.ResourcesUploaded)
	su.RegisterMetric(stats.ResourceDownloads)

	return &Service{
		log:   logger,
		db:    db,
		files: files,
		stats: su,
	}
}

type UploadParams struct {
	Title        string
	Description  string
	Category     string
	FileName     string
	ContentType  string
	Size         int64
	Body         io.Reader
	UploaderId   string
	UploaderName string
}

func storedName(ext string) (string, error) {
	id, err := shortid.Generate()
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%d-%s%s", time.Now().UnixMilli(), id, ext), nil
}

func (s *Service) Upload(ctx context.Context, params UploadParams) (database.Resource, error) {
	if params.Body == nil || params.FileName == "" {
		return database.Resource{}, ErrFileRequired
	}
	if params.Size > MaxUploadSize {
		return database.Resource{}, ErrFileTooLarge
	}
	if !AllowedType(params.FileName, params.ContentType) {
		return database.Resource{}, ErrInvalidFileType
	}

	category := params.Category
	if category == "" {
		category = DefaultCategory
	}
	if !slices.Contains(Categories, category) {
		return database.Resource{}, ErrInvalidCategory
	}

	ext := strings.ToLower(filepath.Ext(params.FileName))
	name, err := storedName(ext)
	if err != nil {
		return database.Resource{}, fmt.Errorf("generate file name: %w", err)
	}

	size, err := s.files.Save(name, io.LimitReader(params.Body, MaxUploadSize+1))
	if err != nil {
		return database.Resource{}, fmt.Errorf("save file: %w", err)
	}
	if size > MaxUploadSize {
		s.removeFiles(name, "")
		return database.Resource{}, ErrFileTooLarge
	}

	var thumbName, thumbUrl string
	if slices.Contains(thumbnailTypes, ext) {
		thumbName, err = s.files.SaveThumbnail(name)
		if err != nil {
			// the upload itself is still valid
			s.log.Printf("thumbnail for %q: %v", name, err)
		} else {
			thumbUrl = URLPrefix + path.Join(thumbsDir, thumbName)
		}
	}

	title := strings.TrimSpace(params.Title)
	if title == "" {
		title = params.FileName
	}

	resource, err := s.db.CreateResource(ctx, database.CreateResourceParams{
		Title:        title,
		Description:  strings.TrimSpace(params.Description),
		Category:     category,
		FileName:     params.FileName,
		FileUrl:      URLPrefix + name,
		FileType:     ext,
		FileSize:     size,
		ThumbnailUrl: thumbUrl,
		UploaderId:   params.UploaderId,
		UploaderName: params.UploaderName,
	})
	if err != nil {
		s.removeFiles(name, thumbName)
		return database.Resource{}, fmt.Errorf("create resource: %w", err)
	}

	s.stats.Incr(stats.ResourcesUploaded)
	return resource, nil
}

func (s *Service) List(ctx context.Context) ([]database.Resource, error) {
	return s.db.ListResources(ctx)
}

// RecordDownload counts one download and returns the updated resource.
func (s *Service) RecordDownload(ctx context.Context, id string) (database.Resource, error) {
	resource, err := s.db.IncrementDownloads(ctx, id)
	if err != nil {
		return database.Resource{}, err
	}

	s.stats.Incr(stats.ResourceDownloads)
	return resource, nil
}

// Delete removes the resource record and then its stored files. Only the
// uploader may delete a resource.
func (s *Service) Delete(ctx context.Context, id, requesterId string) error {
	resource, err := s.db.GetResourceById(ctx, id)
	if err != nil {
		return err
	}

	if resource.UploaderId != requesterId {
		return ErrNotUploader
	}

	if err := s.db.DeleteResource(ctx, resource.Id); err != nil {
		return err
	}

	var thumbName string
	if resource.ThumbnailUrl != "" {
		thumbName = path.Base(resource.ThumbnailUrl)
	}
	s.removeFiles(path.Base(resource.FileUrl), thumbName)

	return nil
}

func (s *Service) removeFiles(name, thumbName string) {
	if err := s.files.Remove(name); err != nil {
		s.log.Printf("remove %q: %v", name, err)
	}
	if thumbName == "" {
		return
	}
	if err := s.files.RemoveThumbnail(thumbName); err != nil {
		s.log.Printf("remove thumbnail %q: %v", thumbName, err)
	}
}
