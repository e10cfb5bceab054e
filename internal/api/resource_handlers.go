package api

import (
	"errors"
	"net/http"

	"github.com/npezzotti/studyhub/internal/resources"
	"github.com/npezzotti/studyhub/internal/types"
)

const (
	// multipart overhead allowed on top of the file itself
	uploadFormSlack  = 1 << 20
	uploadFormMemory = 1 << 20
)

type ResourceResponse struct {
	Message  string         `json:"message"`
	Resource types.Resource `json:"resource"`
}

type DownloadResponse struct {
	FileUrl string `json:"fileUrl"`
}

func (s *StudyHubApp) listResources(w http.ResponseWriter, r *http.Request) {
	list, err := s.resources.List(r.Context())
	if err != nil {
		s.writeError(w, err, "resource")
		return
	}

	s.writeJson(w, http.StatusOK, types.NewResources(list))
}

func (s *StudyHubApp) uploadResource(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, resources.MaxUploadSize+uploadFormSlack)
	if err := r.ParseMultipartForm(uploadFormMemory); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			s.writeError(w, resources.ErrFileTooLarge, "resource")
			return
		}
		s.writeError(w, resources.ErrFileRequired, "resource")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeError(w, resources.ErrFileRequired, "resource")
		return
	}
	defer file.Close()

	userId, _ := UserId(r.Context())
	uploaderName, err := s.displayName(r.Context(), userId, r.FormValue("uploaderName"))
	if err != nil {
		s.writeError(w, err, "user")
		return
	}

	resource, err := s.resources.Upload(r.Context(), resources.UploadParams{
		Title:        r.FormValue("title"),
		Description:  r.FormValue("description"),
		Category:     r.FormValue("category"),
		FileName:     header.Filename,
		ContentType:  header.Header.Get("Content-Type"),
		Size:         header.Size,
		Body:         file,
		UploaderId:   userId,
		UploaderName: uploaderName,
	})
	if err != nil {
		s.writeError(w, err, "resource")
		return
	}

	s.writeJson(w, http.StatusCreated, ResourceResponse{
		Message:  "resource uploaded successfully",
		Resource: types.NewResource(resource),
	})
}

func (s *StudyHubApp) downloadResource(w http.ResponseWriter, r *http.Request) {
	resource, err := s.resources.RecordDownload(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err, "resource")
		return
	}

	s.writeJson(w, http.StatusOK, DownloadResponse{FileUrl: resource.FileUrl})
}

func (s *StudyHubApp) deleteResource(w http.ResponseWriter, r *http.Request) {
	userId, _ := UserId(r.Context())

	if err := s.resources.Delete(r.Context(), r.PathValue("id"), userId); err != nil {
		s.writeError(w, err, "resource")
		return
	}

	s.writeJson(w, http.StatusOK, MessageResponse{Message: "resource deleted successfully"})
}
