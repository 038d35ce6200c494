package main

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"admitflow/application"
	"admitflow/auth"
	"admitflow/document"
	"admitflow/timeline"
)

type authService interface {
	Register(ctx context.Context, req auth.RegisterRequest) (*auth.User, error)
	Login(ctx context.Context, req auth.LoginRequest) (auth.LoginResult, error)
	VerifyToken(token string) (string, auth.Role, error)
}

type applicationCRUD interface {
	Create(ctx context.Context, params application.CreateParams) (application.Application, error)
	Get(ctx context.Context, applicationID string) (application.Application, error)
	List(ctx context.Context, filters application.ListFilters) ([]application.Application, int, error)
	History(ctx context.Context, applicationID string) ([]application.StageHistoryEntry, error)
}

type stepService interface {
	SaveStep(ctx context.Context, params application.SaveStepParams) (application.SaveStepResult, error)
	EvaluateSubmissionReadiness(ctx context.Context, applicationID string) (application.Readiness, error)
}

type transitionService interface {
	Transition(ctx context.Context, params application.TransitionParams) (application.TransitionResult, error)
	RecordGSAssessment(ctx context.Context, params application.GSAssessmentParams) (application.GSAssessmentResult, error)
}

type documentService interface {
	RegisterUpload(ctx context.Context, params document.UploadParams) (document.Record, error)
	Review(ctx context.Context, params document.ReviewParams) (document.Record, error)
	ListByApplication(ctx context.Context, applicationID string) ([]document.Record, error)
}

type timelineReader interface {
	List(ctx context.Context, applicationID string, limit int) ([]timeline.Event, error)
}

type server struct {
	auth        authService
	crud        applicationCRUD
	steps       stepService
	transitions transitionService
	documents   documentService
	timeline    timelineReader
}

type actor struct {
	ID   string
	Role auth.Role
}

func (s *server) router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", s.handleRegister)
	mux.HandleFunc("POST /api/auth/login", s.handleLogin)

	mux.HandleFunc("POST /api/applications", s.withAuth(s.handleCreateApplication))
	mux.HandleFunc("GET /api/applications", s.withAuth(s.handleListApplications))
	mux.HandleFunc("GET /api/applications/{id}", s.withAuth(s.handleGetApplication))
	mux.HandleFunc("GET /api/applications/{id}/history", s.withAuth(s.handleHistory))
	mux.HandleFunc("GET /api/applications/{id}/timeline", s.withAuth(s.handleTimeline))
	mux.HandleFunc("PUT /api/applications/{id}/steps/{step}", s.withAuth(s.handleSaveStep))
	mux.HandleFunc("GET /api/applications/{id}/readiness", s.withAuth(s.handleReadiness))
	mux.HandleFunc("POST /api/applications/{id}/transition", s.withAuth(s.handleTransition))
	mux.HandleFunc("POST /api/applications/{id}/gs-assessment", s.withAuth(s.handleGSAssessment))
	mux.HandleFunc("POST /api/applications/{id}/documents", s.withAuth(s.handleUploadDocument))
	mux.HandleFunc("GET /api/applications/{id}/documents", s.withAuth(s.handleListDocuments))
	mux.HandleFunc("POST /api/documents/{id}/review", s.withAuth(s.handleReviewDocument))

	return mux
}

func (s *server) withAuth(next func(http.ResponseWriter, *http.Request, actor)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthorized", Message: "missing bearer token"})
			return
		}
		userID, role, err := s.auth.VerifyToken(token)
		if err != nil {
			writeJSON(w, http.StatusUnauthorized, errorBody{Code: "unauthorized", Message: "invalid token"})
			return
		}
		next(w, r, actor{ID: userID, Role: role})
	}
}

func (s *server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req auth.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: "invalid JSON body"})
		return
	}
	// Staff and admin accounts are provisioned out of band.
	req.Role = auth.RoleAgent

	user, err := s.auth.Register(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":        user.ID,
		"email":     user.Email,
		"full_name": user.FullName,
		"role":      user.Role,
	})
}

func (s *server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req auth.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: "invalid JSON body"})
		return
	}

	result, err := s.auth.Login(r.Context(), req)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": result.Token,
		"user": map[string]any{
			"id":        result.User.ID,
			"email":     result.User.Email,
			"full_name": result.User.FullName,
			"role":      result.User.Role,
		},
	})
}

type createApplicationRequest struct {
	StudentName            string   `json:"student_name"`
	StudentEmail           string   `json:"student_email"`
	CourseCode             string   `json:"course_code"`
	MandatoryDocumentTypes []string `json:"mandatory_document_types,omitempty"`
}

func (s *server) handleCreateApplication(w http.ResponseWriter, r *http.Request, who actor) {
	var req createApplicationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: "invalid JSON body"})
		return
	}

	app, err := s.crud.Create(r.Context(), application.CreateParams{
		AgentUserID:            who.ID,
		StudentName:            req.StudentName,
		StudentEmail:           req.StudentEmail,
		CourseCode:             req.CourseCode,
		MandatoryDocumentTypes: req.MandatoryDocumentTypes,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, applicationBody(app))
}

func (s *server) handleListApplications(w http.ResponseWriter, r *http.Request, who actor) {
	filters := application.ListFilters{}
	// Agents see their own pipeline; staff see everything.
	if !who.Role.IsStaff() {
		filters.AgentUserID = who.ID
	}
	if raw := r.URL.Query().Get("stage"); raw != "" {
		stage, err := application.ParseStage(raw)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: "unknown stage"})
			return
		}
		filters.Stage = stage
	}
	filters.Page, _ = strconv.Atoi(r.URL.Query().Get("page"))
	filters.PageSize, _ = strconv.Atoi(r.URL.Query().Get("page_size"))

	apps, total, err := s.crud.List(r.Context(), filters)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(apps))
	for _, app := range apps {
		items = append(items, applicationBody(app))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items, "total": total})
}

// authorizeApplication loads the application and enforces agent ownership on
// every application-scoped route. Staff see every application.
func (s *server) authorizeApplication(w http.ResponseWriter, r *http.Request, who actor, applicationID string) (application.Application, bool) {
	app, err := s.crud.Get(r.Context(), applicationID)
	if err != nil {
		s.writeError(w, err)
		return application.Application{}, false
	}
	if !who.Role.IsStaff() && app.AgentUserID != who.ID {
		writeJSON(w, http.StatusForbidden, errorBody{Code: "forbidden", Message: "not your application"})
		return application.Application{}, false
	}
	return app, true
}

func (s *server) handleGetApplication(w http.ResponseWriter, r *http.Request, who actor) {
	app, ok := s.authorizeApplication(w, r, who, r.PathValue("id"))
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, applicationBody(app))
}

func (s *server) handleHistory(w http.ResponseWriter, r *http.Request, who actor) {
	if _, ok := s.authorizeApplication(w, r, who, r.PathValue("id")); !ok {
		return
	}

	entries, err := s.crud.History(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(entries))
	for _, e := range entries {
		item := map[string]any{
			"id":         e.ID,
			"from":       e.FromStage,
			"to":         e.ToStage,
			"created_at": e.CreatedAt,
		}
		if e.ActorID != nil {
			item["actor_id"] = *e.ActorID
		}
		if e.Note != nil {
			item["note"] = *e.Note
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (s *server) handleTimeline(w http.ResponseWriter, r *http.Request, who actor) {
	if _, ok := s.authorizeApplication(w, r, who, r.PathValue("id")); !ok {
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	events, err := s.timeline.List(r.Context(), r.PathValue("id"), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(events))
	for _, ev := range events {
		item := map[string]any{
			"seq":        ev.Seq,
			"type":       ev.Type,
			"payload":    json.RawMessage(ev.Payload),
			"created_at": ev.CreatedAt,
		}
		if ev.ActorID != nil {
			item["actor_id"] = *ev.ActorID
		}
		items = append(items, item)
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type saveStepRequest struct {
	Payload      map[string]any `json:"payload"`
	Acknowledged bool           `json:"acknowledged"`
}

func (s *server) handleSaveStep(w http.ResponseWriter, r *http.Request, who actor) {
	if _, ok := s.authorizeApplication(w, r, who, r.PathValue("id")); !ok {
		return
	}

	var req saveStepRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: "invalid JSON body"})
		return
	}

	result, err := s.steps.SaveStep(r.Context(), application.SaveStepParams{
		ApplicationID: r.PathValue("id"),
		Step:          r.PathValue("step"),
		Payload:       req.Payload,
		Acknowledged:  req.Acknowledged,
		ActorID:       who.ID,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	body := map[string]any{
		"completion_percentage": result.CompletionPercentage,
		"can_submit":            result.CanSubmit,
	}
	if result.NextStep != nil {
		body["next_step"] = *result.NextStep
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *server) handleReadiness(w http.ResponseWriter, r *http.Request, who actor) {
	if _, ok := s.authorizeApplication(w, r, who, r.PathValue("id")); !ok {
		return
	}

	readiness, err := s.steps.EvaluateSubmissionReadiness(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"can_submit":            readiness.CanSubmit,
		"completion_percentage": readiness.CompletionPercentage,
		"missing_steps":         readiness.MissingSteps,
		"unverified_documents":  readiness.UnverifiedDocuments,
	})
}

type transitionRequest struct {
	Target string  `json:"target"`
	Note   *string `json:"note,omitempty"`
}

func (s *server) handleTransition(w http.ResponseWriter, r *http.Request, who actor) {
	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: "invalid JSON body"})
		return
	}

	target, err := application.ParseStage(req.Target)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: "unknown target stage"})
		return
	}

	// Agents may submit their own draft and accept/withdraw offers; the
	// review pipeline belongs to staff.
	if !who.Role.IsStaff() {
		switch target {
		case application.StageSubmitted, application.StageOfferAccepted, application.StageWithdrawn:
		default:
			writeJSON(w, http.StatusForbidden, errorBody{Code: "forbidden", Message: "staff role required"})
			return
		}
	}
	if _, ok := s.authorizeApplication(w, r, who, r.PathValue("id")); !ok {
		return
	}

	result, err := s.transitions.Transition(r.Context(), application.TransitionParams{
		ApplicationID: r.PathValue("id"),
		Target:        target,
		ActorID:       who.ID,
		Note:          req.Note,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"from":             result.From,
		"to":               result.To,
		"history_entry_id": result.HistoryEntryID,
	})
}

type gsAssessmentRequest struct {
	Decision string `json:"decision"`
	Notes    string `json:"notes"`
}

func (s *server) handleGSAssessment(w http.ResponseWriter, r *http.Request, who actor) {
	if !who.Role.IsStaff() {
		writeJSON(w, http.StatusForbidden, errorBody{Code: "forbidden", Message: "staff role required"})
		return
	}

	var req gsAssessmentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: "invalid JSON body"})
		return
	}

	result, err := s.transitions.RecordGSAssessment(r.Context(), application.GSAssessmentParams{
		ApplicationID: r.PathValue("id"),
		AssessorID:    who.ID,
		Decision:      application.AssessmentDecision(req.Decision),
		Notes:         req.Notes,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	body := map[string]any{
		"assessment_id": result.AssessmentID,
		"transitioned":  result.Transitioned,
	}
	if result.Transitioned {
		body["new_stage"] = result.NewStage
	}
	writeJSON(w, http.StatusOK, body)
}

type uploadDocumentRequest struct {
	Type           string `json:"type"`
	FileName       string `json:"file_name"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

func (s *server) handleUploadDocument(w http.ResponseWriter, r *http.Request, who actor) {
	if _, ok := s.authorizeApplication(w, r, who, r.PathValue("id")); !ok {
		return
	}

	var req uploadDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: "invalid JSON body"})
		return
	}

	rec, err := s.documents.RegisterUpload(r.Context(), document.UploadParams{
		ApplicationID:  r.PathValue("id"),
		Type:           req.Type,
		FileName:       req.FileName,
		UploadedBy:     who.ID,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, documentBody(rec))
}

func (s *server) handleListDocuments(w http.ResponseWriter, r *http.Request, who actor) {
	if _, ok := s.authorizeApplication(w, r, who, r.PathValue("id")); !ok {
		return
	}

	records, err := s.documents.ListByApplication(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeError(w, err)
		return
	}

	items := make([]map[string]any, 0, len(records))
	for _, rec := range records {
		items = append(items, documentBody(rec))
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type reviewDocumentRequest struct {
	Verdict string  `json:"verdict"`
	Note    *string `json:"note,omitempty"`
}

func (s *server) handleReviewDocument(w http.ResponseWriter, r *http.Request, who actor) {
	if !who.Role.IsStaff() {
		writeJSON(w, http.StatusForbidden, errorBody{Code: "forbidden", Message: "staff role required"})
		return
	}

	var req reviewDocumentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: "invalid JSON body"})
		return
	}

	rec, err := s.documents.Review(r.Context(), document.ReviewParams{
		DocumentID: r.PathValue("id"),
		ReviewerID: who.ID,
		Verdict:    document.ReviewVerdict(req.Verdict),
		Note:       req.Note,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, documentBody(rec))
}

type errorBody struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
	Details   any    `json:"details,omitempty"`
}

// writeError maps domain errors to stable machine-readable codes so the UI
// can render actionable guidance.
func (s *server) writeError(w http.ResponseWriter, err error) {
	var (
		illegal    *application.IllegalTransitionError
		incomplete *application.IncompleteFormError
		unverified *application.UnverifiedDocumentsError
		unknown    *application.UnknownStepError
		uneditable *application.NotEditableError
	)

	switch {
	case errors.As(err, &illegal):
		writeJSON(w, http.StatusConflict, errorBody{
			Code:    application.CodeIllegalTransition,
			Message: err.Error(),
			Details: map[string]any{"from": illegal.From, "to": illegal.To},
		})
	case errors.As(err, &incomplete):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Code:    application.CodeIncompleteForm,
			Message: err.Error(),
			Details: map[string]any{"missing_steps": incomplete.MissingSteps},
		})
	case errors.As(err, &unverified):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{
			Code:    application.CodeUnverifiedDocuments,
			Message: err.Error(),
			Details: map[string]any{"unverified_documents": unverified.Types},
		})
	case errors.As(err, &unknown):
		writeJSON(w, http.StatusBadRequest, errorBody{Code: application.CodeUnknownStep, Message: err.Error()})
	case errors.As(err, &uneditable):
		writeJSON(w, http.StatusConflict, errorBody{Code: application.CodeApplicationNotEditable, Message: err.Error()})
	case errors.Is(err, application.ErrMissingReason):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Code: application.CodeMissingReason, Message: err.Error()})
	case errors.Is(err, application.ErrTransitionConflict):
		writeJSON(w, http.StatusConflict, errorBody{Code: application.CodeTransitionConflict, Message: err.Error(), Retryable: true})
	case errors.Is(err, application.ErrInvalidDecision):
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "invalid_decision", Message: err.Error()})
	case errors.Is(err, application.ErrNotFound), errors.Is(err, document.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Code: "not_found", Message: err.Error()})
	case errors.Is(err, document.ErrUnknownType), errors.Is(err, document.ErrInvalidVerdict):
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: err.Error()})
	case errors.Is(err, document.ErrReviewNoteRequired):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Code: "review_note_required", Message: err.Error()})
	case errors.Is(err, document.ErrNotReviewable):
		writeJSON(w, http.StatusConflict, errorBody{Code: "not_reviewable", Message: err.Error()})
	case errors.Is(err, auth.ErrInvalidCredentials):
		writeJSON(w, http.StatusUnauthorized, errorBody{Code: "invalid_credentials", Message: err.Error()})
	case errors.Is(err, auth.ErrWeakPassword), errors.Is(err, auth.ErrDuplicateEmail):
		writeJSON(w, http.StatusBadRequest, errorBody{Code: "bad_request", Message: err.Error()})
	default:
		log.Printf("internal error: %v", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Code: "internal", Message: "internal server error"})
	}
}

func applicationBody(app application.Application) map[string]any {
	body := map[string]any{
		"id":                       app.ID,
		"agent_user_id":            app.AgentUserID,
		"student_name":             app.StudentName,
		"student_email":            app.StudentEmail,
		"course_code":              app.CourseCode,
		"stage":                    app.Stage,
		"completed_steps":          app.CompletedSteps,
		"mandatory_document_types": app.MandatoryDocumentTypes,
		"created_at":               app.CreatedAt,
		"updated_at":               app.UpdatedAt,
	}
	if app.DecisionAt != nil {
		body["decision_at"] = *app.DecisionAt
	}
	return body
}

func documentBody(rec document.Record) map[string]any {
	body := map[string]any{
		"id":             rec.ID,
		"application_id": rec.ApplicationID,
		"type":           rec.Type,
		"version":        rec.Version,
		"file_name":      rec.FileName,
		"status":         rec.Status,
		"created_at":     rec.CreatedAt,
	}
	if rec.ReviewNote != nil {
		body["review_note"] = *rec.ReviewNote
	}
	return body
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("encode response: %v", err)
	}
}
