package http

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"serialtrust/internal/domain"
	"serialtrust/internal/usecase"

	"github.com/gin-gonic/gin"
)

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type registerRequest struct {
	FactoryName string `json:"factory_name"`
	PublicKey   string `json:"public_key"`
}

type registerResponse struct {
	RequestID   int64  `json:"request_id"`
	FactoryName string `json:"factory_name"`
	Status      string `json:"status"`
}

type admissionResponse struct {
	Status        string `json:"status"`
	BatchID       string `json:"batch_id,omitempty"`
	Inserted      int    `json:"inserted"`
	Conflicts     int    `json:"conflicts"`
	ChunksPending int    `json:"chunks_pending,omitempty"`
	Message       string `json:"message"`
}

type verifyResponse struct {
	Status         string `json:"status"`
	SerialNumber   string `json:"serial_number"`
	ProductionDate string `json:"production_date"`
	Provenance     string `json:"provenance"`
}

type requestSummary struct {
	ID          int64  `json:"id"`
	FactoryName string `json:"factory_name"`
	Status      string `json:"status"`
	CreatedAt   string `json:"created_at"`
	DecidedAt   string `json:"decided_at,omitempty"`
	DecidedBy   string `json:"decided_by,omitempty"`
	PublicKey   string `json:"public_key"`
}

type decisionRequest struct {
	Actor      string `json:"actor"`
	ApprovedBy string `json:"approved_by"`
	DeniedBy   string `json:"denied_by"`
	RevokedBy  string `json:"revoked_by"`
}

type retryRequest struct {
	FactoryName string `json:"factory_name"`
	BatchID     string `json:"batch_id"`
}

func (s *Server) handleVerifySerial(c *gin.Context) {
	if !s.enforceRateLimit(c, domain.EndpointClassRead) {
		return
	}
	record, err := s.gateway.VerifySerial(c.Request.Context(), c.Query("sn"))
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"status": "Not Found"})
			return
		}
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, verifyResponse{
		Status:         "Authentic",
		SerialNumber:   record.SerialNumber,
		ProductionDate: record.ProductionDate.Format("2006-01-02"),
		Provenance:     record.Provenance,
	})
}

func (s *Server) handleRegister(c *gin.Context) {
	if !s.enforceRateLimit(c, domain.EndpointClassRegister) {
		return
	}
	var req registerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	record, created, err := s.registry.Submit(c.Request.Context(), req.FactoryName, req.PublicKey)
	if err != nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	c.JSON(status, registerResponse{
		RequestID:   record.ID,
		FactoryName: record.FactoryName,
		Status:      string(record.Status),
	})
}

func (s *Server) handleAddSerials(c *gin.Context) {
	s.handleIngest(c, func(c *gin.Context) (domain.UploadUnit, bool) {
		return domain.UploadUnit{TotalChunks: 1}, true
	})
}

func (s *Server) handleAddBatchSerials(c *gin.Context) {
	s.handleIngest(c, func(c *gin.Context) (domain.UploadUnit, bool) {
		batchID := strings.TrimSpace(c.GetHeader("X-Batch-ID"))
		if batchID == "" {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_UPLOAD", "X-Batch-ID header is required")
			return domain.UploadUnit{}, false
		}
		testRuns, _ := strconv.Atoi(c.GetHeader("X-Test-Run-Count"))
		return domain.UploadUnit{BatchID: batchID, TotalChunks: 1, TestRunCount: testRuns}, true
	})
}

func (s *Server) handleAddChunkSerials(c *gin.Context) {
	s.handleIngest(c, func(c *gin.Context) (domain.UploadUnit, bool) {
		batchID := strings.TrimSpace(c.GetHeader("X-Batch-ID"))
		chunkIndex, idxErr := strconv.Atoi(c.GetHeader("X-Chunk-Index"))
		totalChunks, totErr := strconv.Atoi(c.GetHeader("X-Total-Chunks"))
		if batchID == "" || idxErr != nil || totErr != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_UPLOAD", "X-Batch-ID, X-Chunk-Index and X-Total-Chunks headers are required")
			return domain.UploadUnit{}, false
		}
		testRuns, _ := strconv.Atoi(c.GetHeader("X-Test-Run-Count"))
		return domain.UploadUnit{
			BatchID:      batchID,
			ChunkIndex:   chunkIndex,
			TotalChunks:  totalChunks,
			TestRunCount: testRuns,
		}, true
	})
}

func (s *Server) handleIngest(c *gin.Context, parseUnit func(*gin.Context) (domain.UploadUnit, bool)) {
	if !s.enforceRateLimit(c, domain.EndpointClassWrite) {
		return
	}
	env, ok := s.parseEnvelope(c)
	if !ok {
		return
	}
	unit, ok := parseUnit(c)
	if !ok {
		return
	}
	payload, err := readPayload(c)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_UPLOAD", "no upload payload")
		return
	}

	admission, err := s.gateway.Ingest(c.Request.Context(), usecase.IngestRequest{
		Envelope: env,
		Unit:     unit,
		Payload:  payload,
	})
	if err != nil {
		writeError(c, err)
		return
	}

	resp := admissionResponse{
		Status:        string(admission.Outcome),
		BatchID:       admission.BatchID,
		Inserted:      admission.Inserted,
		Conflicts:     admission.Conflicts,
		ChunksPending: admission.ChunksPending,
	}
	switch admission.Outcome {
	case domain.AdmissionAccepted:
		resp.Message = fmt.Sprintf("%d serial numbers added successfully.", admission.Inserted)
	case domain.AdmissionQueued:
		resp.Message = fmt.Sprintf("chunk recorded, %d chunks pending", admission.ChunksPending)
	case domain.AdmissionDuplicate:
		resp.Message = "upload already processed"
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) parseEnvelope(c *gin.Context) (domain.SignedEnvelope, bool) {
	signature := strings.TrimSpace(c.GetHeader("X-Signature"))
	timestampRaw := strings.TrimSpace(c.GetHeader("X-Timestamp"))
	if signature == "" || timestampRaw == "" {
		writeErrorCode(c, http.StatusForbidden, "MISSING_AUTH_HEADERS", "missing authentication headers")
		return domain.SignedEnvelope{}, false
	}
	factory := strings.TrimSpace(c.GetHeader("X-Factory-ID"))
	if factory == "" {
		writeErrorCode(c, http.StatusForbidden, "MISSING_AUTH_HEADERS", "X-Factory-ID header is required")
		return domain.SignedEnvelope{}, false
	}
	timestamp, err := strconv.ParseInt(timestampRaw, 10, 64)
	if err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid timestamp")
		return domain.SignedEnvelope{}, false
	}

	scheme := domain.SchemeECDSAP256
	switch strings.ToLower(strings.TrimSpace(c.GetHeader("X-Signature-Scheme"))) {
	case "", string(domain.SchemeECDSAP256):
	case string(domain.SchemeHMACSHA256):
		scheme = domain.SchemeHMACSHA256
	default:
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "unsupported signature scheme")
		return domain.SignedEnvelope{}, false
	}

	return domain.SignedEnvelope{
		Timestamp:   timestamp,
		Signature:   signature,
		Scheme:      scheme,
		FactoryName: factory,
	}, true
}

func readPayload(c *gin.Context) ([]byte, error) {
	if strings.HasPrefix(c.ContentType(), "multipart/form-data") {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return nil, err
		}
		file, err := fileHeader.Open()
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	}
	return io.ReadAll(c.Request.Body)
}

func (s *Server) handleQueueStatus(c *gin.Context) {
	if !s.enforceRateLimit(c, domain.EndpointClassRead) {
		return
	}
	factory := strings.TrimSpace(c.Query("factory"))
	if factory == "" {
		if pub := strings.TrimSpace(c.Query("public_key")); pub != "" {
			resolved, err := s.registry.FactoryForKey(c.Request.Context(), pub)
			if err != nil {
				writeError(c, err)
				return
			}
			factory = resolved
		}
	}
	if factory == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "factory or public_key is required")
		return
	}
	status := s.coordinator.QueueStatus(c.Request.Context(), factory)
	c.JSON(http.StatusOK, gin.H{
		"factory_id":      status.FactoryName,
		"pending_uploads": status.Pending,
		"failed_uploads":  status.Failed,
	})
}

func (s *Server) handleRetryFailed(c *gin.Context) {
	if !s.enforceRateLimit(c, domain.EndpointClassWrite) {
		return
	}
	var req retryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_JSON", "invalid json")
		return
	}
	if strings.TrimSpace(req.FactoryName) == "" {
		writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "factory_name is required")
		return
	}

	var (
		report *usecase.RetryReport
		err    error
	)
	if req.BatchID != "" {
		report, err = s.coordinator.RetryBatch(c.Request.Context(), req.FactoryName, req.BatchID)
	} else {
		report, err = s.coordinator.RetryFailed(c.Request.Context(), req.FactoryName)
	}
	if err != nil && report == nil {
		writeError(c, err)
		return
	}
	status := http.StatusOK
	if err != nil {
		// Retried but some chunks failed again.
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, gin.H{
		"retried_chunks":   report.RetriedChunks,
		"inserted":         report.Inserted,
		"conflicts":        report.Conflicts,
		"still_failed":     report.StillFailed,
		"awaiting_batches": report.AwaitingBatches,
	})
}

func (s *Server) handleAdminListRequests(c *gin.Context) {
	if !s.requireAdmin(c) {
		return
	}
	requests, err := s.registry.List(c.Request.Context())
	if err != nil {
		writeError(c, err)
		return
	}
	out := make([]requestSummary, 0, len(requests))
	for _, req := range requests {
		out = append(out, buildRequestSummary(req))
	}
	c.JSON(http.StatusOK, gin.H{"requests": out})
}

func (s *Server) handleAdminDecision(decision domain.Decision) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !s.requireAdmin(c) {
			return
		}
		id, err := strconv.ParseInt(c.Param("id"), 10, 64)
		if err != nil {
			writeErrorCode(c, http.StatusBadRequest, "INVALID_REQUEST", "invalid request id")
			return
		}
		var body decisionRequest
		_ = c.ShouldBindJSON(&body)
		actor := firstNonEmpty(body.Actor, body.ApprovedBy, body.DeniedBy, body.RevokedBy, "admin")

		record, err := s.registry.Decide(c.Request.Context(), id, decision, actor)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, registerResponse{
			RequestID:   record.ID,
			FactoryName: record.FactoryName,
			Status:      string(record.Status),
		})
	}
}

func buildRequestSummary(req domain.RegistrationRequest) requestSummary {
	out := requestSummary{
		ID:          req.ID,
		FactoryName: req.FactoryName,
		Status:      string(req.Status),
		CreatedAt:   req.CreatedAt.UTC().Format(time.RFC3339),
		DecidedBy:   req.DecidedBy,
		PublicKey:   req.PublicKey,
	}
	if req.DecidedAt != nil {
		out.DecidedAt = req.DecidedAt.UTC().Format(time.RFC3339)
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func writeError(c *gin.Context, err error) {
	status, code := http.StatusInternalServerError, "INTERNAL"
	switch {
	case errors.Is(err, domain.ErrThrottled):
		status, code = http.StatusTooManyRequests, "THROTTLED"
	case errors.Is(err, domain.ErrStaleTimestamp):
		status, code = http.StatusForbidden, "STALE_TIMESTAMP"
	case errors.Is(err, domain.ErrFutureSkew):
		status, code = http.StatusForbidden, "FUTURE_SKEW"
	case errors.Is(err, domain.ErrUnknownFactory):
		status, code = http.StatusForbidden, "UNKNOWN_FACTORY"
	case errors.Is(err, domain.ErrKeyNotApproved):
		status, code = http.StatusForbidden, "KEY_NOT_APPROVED"
	case errors.Is(err, domain.ErrInvalidSignature):
		status, code = http.StatusForbidden, "SIGNATURE_INVALID"
	case errors.Is(err, domain.ErrInvalidPublicKey):
		status, code = http.StatusBadRequest, "INVALID_PUBLIC_KEY"
	case errors.Is(err, domain.ErrPolicyDenied):
		status, code = http.StatusForbidden, "POLICY_DENIED"
	case errors.Is(err, domain.ErrDigestMismatch):
		status, code = http.StatusConflict, "DIGEST_MISMATCH"
	case errors.Is(err, domain.ErrBatchIncomplete):
		status, code = http.StatusConflict, "BATCH_INCOMPLETE"
	case errors.Is(err, domain.ErrInvalidUpload):
		status, code = http.StatusBadRequest, "INVALID_UPLOAD"
	case errors.Is(err, domain.ErrInvalidTransition):
		status, code = http.StatusConflict, "INVALID_TRANSITION"
	case errors.Is(err, domain.ErrPersistence):
		status, code = http.StatusServiceUnavailable, "PERSISTENCE_FAILURE"
	case errors.Is(err, domain.ErrInvalidSerial):
		status, code = http.StatusBadRequest, "INVALID_SERIAL"
	case errors.Is(err, domain.ErrNotFound):
		status, code = http.StatusNotFound, "NOT_FOUND"
	case errors.Is(err, domain.ErrUnauthorized):
		status, code = http.StatusUnauthorized, "UNAUTHORIZED"
	}
	writeErrorCode(c, status, code, err.Error())
}

func writeErrorCode(c *gin.Context, status int, code, message string) {
	c.JSON(status, errorResponse{
		Code:    code,
		Message: message,
	})
}
