package server

import (
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/tsad/internal/checkpoint"
	"github.com/inferloop/tsad/pkg/constants"
	"github.com/inferloop/tsad/pkg/errors"
	"github.com/inferloop/tsad/pkg/interfaces"
	"github.com/inferloop/tsad/pkg/models"
)

// Handlers serves checkpoint and family information
type Handlers struct {
	store     interfaces.CheckpointStore
	families  map[string]bool
	names     []string
	logger    *logrus.Logger
	startTime time.Time
}

// NewHandlers creates the handlers. An empty families list accepts any family.
func NewHandlers(store interfaces.CheckpointStore, families []string, logger *logrus.Logger) *Handlers {
	if logger == nil {
		logger = logrus.New()
	}
	h := &Handlers{
		store:     store,
		families:  make(map[string]bool, len(families)),
		names:     append([]string(nil), families...),
		logger:    logger,
		startTime: time.Now(),
	}
	for _, f := range families {
		h.families[f] = true
	}
	return h
}

// CheckpointSummary describes a stored checkpoint without its tensors
type CheckpointSummary struct {
	Family       string    `json:"family"`
	Dataset      string    `json:"dataset"`
	Epoch        int       `json:"epoch"`
	Parameters   int       `json:"parameters"`
	LearningRate float64   `json:"learning_rate"`
	Epochs       int       `json:"epochs"`
	LastLoss1    float64   `json:"last_loss1"`
	LastLoss2    *float64  `json:"last_loss2,omitempty"`
	SavedAt      time.Time `json:"saved_at"`
	Backend      string    `json:"backend"`
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"version":   constants.AppVersion,
		"uptime":    time.Since(h.startTime).Round(time.Second).String(),
		"backend":   h.store.Backend(),
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handlers) Version(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, constants.GetBuildInfo())
}

func (h *Handlers) ListFamilies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"families": h.names,
		"default":  constants.DefaultFamily,
	})
}

// GetCheckpoint returns the summary of one checkpoint
func (h *Handlers) GetCheckpoint(w http.ResponseWriter, r *http.Request) {
	bundle, ok := h.load(w, r)
	if !ok {
		return
	}

	size := 0
	for _, p := range bundle.Params {
		size += len(p.Values)
	}
	summary := CheckpointSummary{
		Family:       bundle.Family,
		Dataset:      bundle.Dataset,
		Epoch:        bundle.Epoch,
		Parameters:   size,
		LearningRate: bundle.Optimizer.LearningRate,
		Epochs:       len(bundle.History),
		SavedAt:      bundle.SavedAt,
		Backend:      h.store.Backend(),
	}
	if n := len(bundle.History); n > 0 {
		last := bundle.History[n-1]
		summary.LastLoss1 = last.Loss1
		if last.HasLoss2 {
			loss2 := last.Loss2
			summary.LastLoss2 = &loss2
		}
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetHistory returns the epoch records of a checkpoint as JSON, or as CSV
// with ?format=csv
func (h *Handlers) GetHistory(w http.ResponseWriter, r *http.Request) {
	bundle, ok := h.load(w, r)
	if !ok {
		return
	}

	format := r.URL.Query().Get("format")
	if format == "" {
		format = constants.FormatJSON
	}
	switch format {
	case constants.FormatJSON:
		history := bundle.History
		if history == nil {
			history = []models.EpochRecord{}
		}
		writeJSON(w, http.StatusOK, history)
	case constants.FormatCSV:
		w.Header().Set(constants.HeaderContentType, constants.GetMimeTypeByFormat(format))
		w.WriteHeader(http.StatusOK)
		if err := writeHistoryCSV(w, bundle.History); err != nil {
			h.logger.WithError(err).Warn("Failed to write history CSV")
		}
	default:
		writeJSON(w, http.StatusBadRequest, errorBody(errors.CodeInvalidParameter,
			fmt.Sprintf("unsupported format %q", format)))
	}
}

// DeleteCheckpoint removes a checkpoint
func (h *Handlers) DeleteCheckpoint(w http.ResponseWriter, r *http.Request) {
	family, dataset, ok := h.params(w, r)
	if !ok {
		return
	}
	key := checkpoint.Key(family, dataset)
	if err := h.store.Delete(r.Context(), key); err != nil {
		h.writeError(w, err)
		return
	}
	h.logger.WithFields(logrus.Fields{
		"key":     key,
		"backend": h.store.Backend(),
	}).Info("Checkpoint deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) params(w http.ResponseWriter, r *http.Request) (family, dataset string, ok bool) {
	vars := mux.Vars(r)
	family, dataset = vars["family"], vars["dataset"]
	if len(h.families) > 0 && !h.families[family] {
		writeJSON(w, http.StatusBadRequest, errorBody(errors.CodeUnknownFamily,
			fmt.Sprintf("model family '%s' is not supported", family)))
		return "", "", false
	}
	return family, dataset, true
}

func (h *Handlers) load(w http.ResponseWriter, r *http.Request) (*checkpoint.Bundle, bool) {
	family, dataset, ok := h.params(w, r)
	if !ok {
		return nil, false
	}
	bundle, err := h.store.Load(r.Context(), checkpoint.Key(family, dataset))
	if err != nil {
		h.writeError(w, err)
		return nil, false
	}
	return bundle, true
}

func (h *Handlers) writeError(w http.ResponseWriter, err error) {
	status, code := http.StatusInternalServerError, errors.CodeInternalError
	var appErr *errors.AppError
	if errors.As(err, &appErr) {
		code = appErr.Code
	}

	switch {
	case errors.Is(err, checkpoint.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, checkpoint.ErrCorrupt):
		status = http.StatusUnprocessableEntity
	case errors.IsType(err, errors.ErrorTypeStorage):
		status = http.StatusServiceUnavailable
	case errors.IsType(err, errors.ErrorTypeConfiguration):
		status = http.StatusBadRequest
	}

	if status >= http.StatusInternalServerError {
		h.logger.WithError(err).Error("Request failed")
	}
	writeJSON(w, status, errorBody(code, err.Error()))
}

func writeHistoryCSV(w http.ResponseWriter, history []models.EpochRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write([]string{"epoch", "loss1", "loss2", "learning_rate", "duration_seconds"}); err != nil {
		return err
	}
	for _, rec := range history {
		loss2 := ""
		if rec.HasLoss2 {
			loss2 = strconv.FormatFloat(rec.Loss2, 'g', -1, 64)
		}
		if err := cw.Write([]string{
			strconv.Itoa(rec.Epoch),
			strconv.FormatFloat(rec.Loss1, 'g', -1, 64),
			loss2,
			strconv.FormatFloat(rec.LearningRate, 'g', -1, 64),
			strconv.FormatFloat(rec.Duration.Seconds(), 'f', 3, 64),
		}); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func errorBody(code, message string) map[string]interface{} {
	return map[string]interface{}{
		"error": map[string]string{
			"code":    code,
			"message": message,
		},
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set(constants.HeaderContentType, constants.MimeTypeJSON)
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
