package handlers

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"docpipe/internal/adapter"
	"docpipe/internal/adapter/utils"
	"docpipe/internal/config"
	"docpipe/internal/domain/jobModel"
	"docpipe/pkg/logger_i"
)

var logRH *logger_i.Logger

type newJobData struct {
	id          string
	traceId     string
	uploadName  string
	archivePath string
}

func GetHandler(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

// ProcessZipHandler receives a zip archive of scanned documents via
// multipart/form-data, stages it on disk and queues an extraction job. The
// response carries the job id to poll.
func ProcessZipHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		logRH.Warn("Invalid context by request", "remote", r.RemoteAddr)
		return
	}

	targetDir, errString := getUploadDirectory()
	if errString != "" {
		logRH.Error("Couldn't get upload directory", "err", errString)
		WriteErrorResponse(w, http.StatusInternalServerError, "", errString)
		return
	}

	if err := r.ParseMultipartForm(config.MaxUploadSize); err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "", "File too large or bad request")
		return
	}

	fileReader, fileMetadata, err := r.FormFile("file")
	if err != nil {
		WriteErrorResponse(w, http.StatusBadRequest, "", "Could not retrieve file; expected multipart field 'file'")
		return
	}
	defer fileReader.Close()

	if !strings.EqualFold(filepath.Ext(fileMetadata.Filename), ".zip") {
		WriteErrorResponse(w, http.StatusBadRequest, "", "Only .zip archives are accepted")
		return
	}

	filename := fmt.Sprintf("%d-%s", time.Now().UnixNano(), filepath.Base(fileMetadata.Filename))
	archivePath := filepath.Join(targetDir, filename)
	destinationFileWriter, err := os.Create(archivePath)
	if err != nil {
		WriteErrorResponse(w, http.StatusInternalServerError, "", "Storage error")
		return
	}
	defer destinationFileWriter.Close()

	if _, err := io.Copy(destinationFileWriter, fileReader); err != nil {
		WriteErrorResponse(w, http.StatusInternalServerError, "", "Write error")
		return
	}

	newJob := newJobData{
		id:          utils.GetNewUUID(),
		traceId:     r.Context().Value(config.TRACE_ID_KEY).(string),
		uploadName:  fileMetadata.Filename,
		archivePath: archivePath,
	}
	CreateNewJob(newJob)
	writeJsonResponse(w, http.StatusAccepted, adapter.ToInitJobResponse(newJob.id))
}

// GetStatusHandler reports the current state of a job by id.
func GetStatusHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	idString := utils.GetChiURLParam(r, "id")
	result, isFound := validateId(idString, r.Context().Value(config.TRACE_ID_KEY).(string))

	logRH.Debug("Get status request", "URL path", r.URL.Path)
	if !isFound {
		WriteErrorResponse(w, http.StatusNotFound, idString, "Job not found")
		return
	}

	writeJsonResponse(w, http.StatusOK, adapter.ToAPIResponse(result))
}

// DownloadHandler streams a completed job's result file. The default is the
// CSV; ?format=xlsx selects the spreadsheet.
func DownloadHandler(w http.ResponseWriter, r *http.Request) {
	if !validateContext(r.Context()) {
		return
	}
	idString := utils.GetChiURLParam(r, "id")
	result, isFound := validateId(idString, r.Context().Value(config.TRACE_ID_KEY).(string))
	if !isFound {
		WriteErrorResponse(w, http.StatusNotFound, idString, "Job not found")
		return
	}
	if result.Status != jobModel.JobStatusCompleted {
		WriteErrorResponse(w, http.StatusConflict, idString,
			fmt.Sprintf("Job is not completed (status: %s)", result.Status))
		return
	}

	path := result.ResultPath
	if strings.EqualFold(r.URL.Query().Get("format"), "xlsx") {
		if result.ResultXLSXPath == "" {
			WriteErrorResponse(w, http.StatusNotFound, idString, "No XLSX result for this job")
			return
		}
		path = result.ResultXLSXPath
	}
	if path == "" {
		WriteErrorResponse(w, http.StatusNotFound, idString, "No result file for this job")
		return
	}

	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=%q", filepath.Base(path)))
	http.ServeFile(w, r, path)
}
