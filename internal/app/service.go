package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"codabook/api/internal/annotate"
	"codabook/api/internal/auth"
	"codabook/api/internal/authpw"
	"codabook/api/internal/config"
	"codabook/api/internal/export"
	"codabook/api/internal/rbac"
	"codabook/api/internal/schema"
	"codabook/api/internal/search"
	"codabook/api/internal/segment"
	"codabook/api/internal/store"
	"codabook/api/internal/util"
)

type Session struct {
	Token        string
	RefreshToken string
	UserID       int64
	UserName     string
	Role         string
	JTI          string
	ExpiresAt    time.Time
}

type dataStore interface {
	Ping(ctx context.Context) error

	CreateUser(ctx context.Context, user store.User) (store.User, error)
	GetUserByUsername(ctx context.Context, username string) (store.User, error)
	GetUserByID(ctx context.Context, id int64) (store.User, error)

	CreateDataset(ctx context.Context, ds store.Dataset) (store.Dataset, error)
	GetDataset(ctx context.Context, id int64) (store.Dataset, error)
	ListDatasets(ctx context.Context) ([]store.Dataset, error)

	ListDialogTurns(ctx context.Context, datasetID int64) ([]store.DialogTurn, error)
	ListDialogEvents(ctx context.Context, turnIDs []int64) (map[int64][]store.DialogEvent, error)

	InsertLabels(ctx context.Context, speaker store.Speaker, specs []store.LabelSpec) error
	DeleteLabels(ctx context.Context, speaker store.Speaker) error
	ListLabels(ctx context.Context, speaker store.Speaker) ([]store.Label, error)
	InsertScales(ctx context.Context, scales []store.Scale) error
	DeleteScales(ctx context.Context, speaker store.Speaker) error
	ListScales(ctx context.Context, speaker store.Speaker) ([]store.Scale, error)

	SaveAnnotation(ctx context.Context, ann store.Annotation, labels []store.LabelAssociation, scales []store.ScaleAssociation, comments []store.AnnotationComment, evidence []store.Evidence) (store.Annotation, error)
	LatestAnnotationForTurns(ctx context.Context, datasetID int64, speaker store.Speaker, authorID int64, turnIDs []int64) (store.Annotation, error)

	ListSMPosts(ctx context.Context, datasetID int64) ([]store.SMPost, error)
	InsertSMAnnotation(ctx context.Context, ann store.SMAnnotation) (store.SMAnnotation, error)

	SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
	RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error
	IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error)
}

// sessionStore holds refresh tokens. Redis when configured, the relational
// store otherwise.
type sessionStore interface {
	SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error
	LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error)
	RevokeRefreshSession(ctx context.Context, tokenHash string) error
}

type pgSessions struct {
	store dataStore
}

func (p *pgSessions) SaveRefreshSession(ctx context.Context, tokenHash string, user store.User, expiresAt time.Time) error {
	return p.store.SaveRefreshSession(ctx, tokenHash, user.ID, expiresAt)
}

func (p *pgSessions) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	return p.store.LookupRefreshSession(ctx, tokenHash)
}

func (p *pgSessions) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	return p.store.RevokeRefreshSession(ctx, tokenHash)
}

type searcher interface {
	Search(q search.Query) search.Response
	IndexDataset(ctx context.Context, datasetID int64)
}

type exporter interface {
	Export(ctx context.Context, username, datasetName string) ([]export.Result, error)
}

type ingester interface {
	IngestTranscript(ctx context.Context, datasetID int64, r io.Reader) (int, int, error)
	IngestThreads(ctx context.Context, datasetID int64, r io.Reader) (int, error)
}

type Service struct {
	cfg       config.Config
	store     dataStore
	sessions  sessionStore
	passwords *authpw.Service
	loader    *schema.Loader
	search    searcher
	exporter  exporter
	ingester  ingester
	log       *zap.Logger

	treeMu sync.RWMutex
	trees  map[store.Speaker]*schema.Tree
}

func New(cfg config.Config, ds dataStore, searchSvc searcher, exportSvc exporter, ingestSvc ingester, log *zap.Logger) *Service {
	return NewWithSessionStore(cfg, ds, &pgSessions{store: ds}, searchSvc, exportSvc, ingestSvc, log)
}

func NewWithSessionStore(cfg config.Config, ds dataStore, sessions sessionStore, searchSvc searcher, exportSvc exporter, ingestSvc ingester, log *zap.Logger) *Service {
	return &Service{
		cfg:       cfg,
		store:     ds,
		sessions:  sessions,
		passwords: authpw.NewService(ds),
		loader:    schema.NewLoader(ds, log),
		search:    searchSvc,
		exporter:  exportSvc,
		ingester:  ingestSvc,
		log:       log,
		trees:     make(map[store.Speaker]*schema.Tree),
	}
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// --- authentication ---

func (s *Service) SignUp(ctx context.Context, req authpw.SignUpRequest) (Session, error) {
	user, err := s.passwords.SignUp(ctx, req)
	if err != nil {
		switch {
		case errors.Is(err, authpw.ErrUsernameTaken):
			return Session{}, domainError(http.StatusConflict, "USERNAME_TAKEN", err.Error(), nil)
		case errors.Is(err, authpw.ErrWeakPassword), errors.Is(err, authpw.ErrMissingFields):
			return Session{}, badRequest("SIGNUP_INVALID", err.Error())
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Login(ctx context.Context, username, password string) (Session, error) {
	user, err := s.passwords.SignIn(ctx, username, password)
	if err != nil {
		if errors.Is(err, authpw.ErrInvalidCredentials) {
			return Session{}, domainError(http.StatusUnauthorized, "INVALID_CREDENTIALS", "Invalid username or password", nil)
		}
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) Refresh(ctx context.Context, refreshToken string) (Session, error) {
	tokenHash := auth.HashToken(refreshToken)
	user, err := s.sessions.LookupRefreshSession(ctx, tokenHash)
	if err != nil {
		return Session{}, err
	}
	if err := s.sessions.RevokeRefreshSession(ctx, tokenHash); err != nil {
		return Session{}, err
	}
	return s.issueSession(ctx, user)
}

func (s *Service) issueSession(ctx context.Context, user store.User) (Session, error) {
	now := time.Now()
	expiresAt := now.Add(s.cfg.AccessTTL)
	jti := util.NewID("jti")

	token, err := auth.IssueToken([]byte(s.cfg.JWTSecret), auth.Claims{
		Sub:  user.ID,
		Name: user.Username,
		Role: user.Role,
		JTI:  jti,
		Exp:  expiresAt.Unix(),
	})
	if err != nil {
		return Session{}, err
	}

	refresh := util.NewID("rft") + util.NewID("")
	refreshExpires := now.Add(s.cfg.RefreshTTL)
	if err := s.sessions.SaveRefreshSession(ctx, auth.HashToken(refresh), user, refreshExpires); err != nil {
		return Session{}, err
	}

	return Session{
		Token:        token,
		RefreshToken: refresh,
		UserID:       user.ID,
		UserName:     user.Username,
		Role:         user.Role,
		JTI:          jti,
		ExpiresAt:    expiresAt,
	}, nil
}

func (s *Service) SessionFromToken(ctx context.Context, token string) (Session, error) {
	claims, err := auth.ParseToken([]byte(s.cfg.JWTSecret), token)
	if err != nil {
		return Session{}, err
	}
	revoked, err := s.store.IsAccessTokenRevoked(ctx, claims.JTI)
	if err != nil {
		return Session{}, err
	}
	if revoked {
		return Session{}, auth.ErrInvalidToken
	}

	user, err := s.store.GetUserByID(ctx, claims.Sub)
	if err != nil {
		return Session{}, err
	}

	return Session{
		Token:     token,
		UserID:    user.ID,
		UserName:  user.Username,
		Role:      user.Role,
		JTI:       claims.JTI,
		ExpiresAt: time.Unix(claims.Exp, 0),
	}, nil
}

func (s *Service) Logout(ctx context.Context, session Session, refreshToken string) error {
	if session.JTI != "" {
		_ = s.store.RevokeAccessToken(ctx, session.JTI, session.ExpiresAt)
	}
	if refreshToken != "" {
		_ = s.sessions.RevokeRefreshSession(ctx, auth.HashToken(refreshToken))
	}
	return nil
}

func (s *Service) authorize(session Session, action rbac.Action) error {
	if !rbac.Can(rbac.Normalize(session.Role), action) {
		return domainError(http.StatusForbidden, "FORBIDDEN", "Forbidden", nil)
	}
	return nil
}

// --- codebook ---

// Tree returns the label tree of a perspective, building and caching it on
// first use. The cache drops on codebook load/unload.
func (s *Service) Tree(ctx context.Context, speaker store.Speaker) (*schema.Tree, error) {
	if !store.ValidSpeaker(speaker) {
		return nil, badRequest("INVALID_ROLE", fmt.Sprintf("unknown coding perspective %q", speaker))
	}

	s.treeMu.RLock()
	tree, ok := s.trees[speaker]
	s.treeMu.RUnlock()
	if ok {
		return tree, nil
	}

	labels, err := s.store.ListLabels(ctx, speaker)
	if err != nil {
		return nil, err
	}
	if len(labels) == 0 {
		return nil, domainError(http.StatusNotFound, "CODEBOOK_NOT_LOADED", fmt.Sprintf("no codebook loaded for %s", speaker), nil)
	}
	scales, err := s.store.ListScales(ctx, speaker)
	if err != nil {
		return nil, err
	}
	tree = schema.NewTree(speaker, labels, scales, s.log)

	s.treeMu.Lock()
	s.trees[speaker] = tree
	s.treeMu.Unlock()
	return tree, nil
}

func (s *Service) invalidateTree(speaker store.Speaker) {
	s.treeMu.Lock()
	delete(s.trees, speaker)
	s.treeMu.Unlock()
}

func (s *Service) LoadCodebook(ctx context.Context, session Session, speaker store.Speaker, data []byte) error {
	if err := s.authorize(session, rbac.ActionAdmin); err != nil {
		return err
	}
	if !store.ValidSpeaker(speaker) {
		return badRequest("INVALID_ROLE", fmt.Sprintf("unknown coding perspective %q", speaker))
	}
	if err := s.loader.Load(ctx, speaker, data); err != nil {
		if errors.Is(err, schema.ErrInvalidArgument) {
			return badRequest("CODEBOOK_INVALID", err.Error())
		}
		return err
	}
	s.invalidateTree(speaker)
	return nil
}

func (s *Service) UnloadCodebook(ctx context.Context, session Session, speaker store.Speaker) error {
	if err := s.authorize(session, rbac.ActionAdmin); err != nil {
		return err
	}
	if !store.ValidSpeaker(speaker) {
		return badRequest("INVALID_ROLE", fmt.Sprintf("unknown coding perspective %q", speaker))
	}
	if err := s.loader.UnloadScales(ctx, speaker); err != nil {
		return err
	}
	if err := s.loader.Unload(ctx, speaker); err != nil {
		return err
	}
	s.invalidateTree(speaker)
	return nil
}

func (s *Service) LoadScales(ctx context.Context, session Session, speaker store.Speaker, data []byte) error {
	if err := s.authorize(session, rbac.ActionAdmin); err != nil {
		return err
	}
	if !store.ValidSpeaker(speaker) {
		return badRequest("INVALID_ROLE", fmt.Sprintf("unknown coding perspective %q", speaker))
	}
	if err := s.loader.LoadScales(ctx, speaker, data); err != nil {
		if errors.Is(err, schema.ErrInvalidArgument) {
			return badRequest("SCALES_INVALID", err.Error())
		}
		return err
	}
	s.invalidateTree(speaker)
	return nil
}

func (s *Service) UnloadScales(ctx context.Context, session Session, speaker store.Speaker) error {
	if err := s.authorize(session, rbac.ActionAdmin); err != nil {
		return err
	}
	if !store.ValidSpeaker(speaker) {
		return badRequest("INVALID_ROLE", fmt.Sprintf("unknown coding perspective %q", speaker))
	}
	if err := s.loader.UnloadScales(ctx, speaker); err != nil {
		return err
	}
	s.invalidateTree(speaker)
	return nil
}

// ChildrenOf serves the cascading sub-label selects: given a selected parent
// label, its direct children with the placeholder prepended.
func (s *Service) ChildrenOf(ctx context.Context, speaker store.Speaker, labelID int64) ([]schema.Choice, error) {
	tree, err := s.Tree(ctx, speaker)
	if err != nil {
		return nil, err
	}
	if _, err := tree.FindByID(labelID); err != nil {
		return nil, notFound(fmt.Sprintf("label %d not found", labelID))
	}
	children := tree.ChildrenOf(labelID, true)
	if children == nil {
		children = []schema.Choice{}
	}
	return children, nil
}

// --- datasets ---

func (s *Service) CreateDataset(ctx context.Context, session Session, name, description string, kind store.DatasetKind) (store.Dataset, error) {
	if err := s.authorize(session, rbac.ActionAdmin); err != nil {
		return store.Dataset{}, err
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return store.Dataset{}, badRequest("DATASET_INVALID", "dataset name is required")
	}
	if kind != store.DatasetPsychotherapy && kind != store.DatasetSocialMedia {
		return store.Dataset{}, badRequest("DATASET_INVALID", fmt.Sprintf("unknown dataset kind %q", kind))
	}
	ds, err := s.store.CreateDataset(ctx, store.Dataset{
		Name:        name,
		Description: strings.TrimSpace(description),
		Kind:        kind,
		AuthorID:    session.UserID,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return store.Dataset{}, domainError(http.StatusConflict, "DATASET_EXISTS", "A dataset with that name already exists", nil)
		}
		return store.Dataset{}, err
	}
	return ds, nil
}

func (s *Service) ListDatasets(ctx context.Context) ([]store.Dataset, error) {
	return s.store.ListDatasets(ctx)
}

func (s *Service) GetDataset(ctx context.Context, id int64) (store.Dataset, error) {
	ds, err := s.store.GetDataset(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Dataset{}, notFound("dataset not found")
		}
		return store.Dataset{}, err
	}
	return ds, nil
}

// --- annotation pages ---

type EventView struct {
	ID        int64  `json:"id"`
	EventN    int    `json:"eventN"`
	Speaker   string `json:"speaker"`
	Plaintext string `json:"plaintext"`
}

type TurnView struct {
	ID          int64       `json:"id"`
	TurnN       int         `json:"turnN"`
	Timestamp   string      `json:"timestamp"`
	MainSpeaker string      `json:"mainSpeaker"`
	Events      []EventView `json:"events"`
}

type LatestView struct {
	AnnotationID   int64     `json:"annotationId"`
	CreatedAt      time.Time `json:"createdAt"`
	CommentSummary string    `json:"commentSummary"`
}

type PageView struct {
	DatasetID  int64                   `json:"datasetId"`
	Speaker    store.Speaker           `json:"speaker"`
	Page       int                     `json:"page"`
	TotalPages int                     `json:"totalPages"`
	HasPrev    bool                    `json:"hasPrev"`
	HasNext    bool                    `json:"hasNext"`
	Turns      []TurnView              `json:"turns"`
	Groups     []annotate.GroupChoices `json:"groups"`
	Latest     *LatestView             `json:"latest,omitempty"`
}

// pageWindow resolves one page of a dataset's transcript: the covered turns
// and their events in order.
func (s *Service) pageWindow(ctx context.Context, datasetID int64, pageN int) (segment.Page[store.DialogTurn], map[int64][]store.DialogEvent, error) {
	var zero segment.Page[store.DialogTurn]

	ds, err := s.GetDataset(ctx, datasetID)
	if err != nil {
		return zero, nil, err
	}
	if ds.Kind != store.DatasetPsychotherapy {
		return zero, nil, badRequest("DATASET_KIND", "annotation pages exist only for psychotherapy datasets")
	}

	turns, err := s.store.ListDialogTurns(ctx, datasetID)
	if err != nil {
		return zero, nil, err
	}
	segments, err := segment.Split(turns, s.cfg.SegmentWindow)
	if err != nil {
		if errors.Is(err, segment.ErrNoTurns) {
			return zero, nil, notFound("dataset has no transcript")
		}
		return zero, nil, err
	}
	page, err := segment.PageOf(segments, pageN)
	if err != nil {
		if errors.Is(err, segment.ErrPageOutOfRange) {
			return zero, nil, notFound(fmt.Sprintf("page %d does not exist", pageN))
		}
		return zero, nil, err
	}

	turnIDs := make([]int64, 0, len(page.Items))
	for _, turn := range page.Items {
		turnIDs = append(turnIDs, turn.ID)
	}
	events, err := s.store.ListDialogEvents(ctx, turnIDs)
	if err != nil {
		return zero, nil, err
	}
	return page, events, nil
}

// AnnotationPage assembles everything one annotation form page needs: the
// window's turns and events, the per-group choice lists, and the author's
// newest prior annotation of this window if any.
func (s *Service) AnnotationPage(ctx context.Context, session Session, datasetID int64, speaker store.Speaker, pageN int) (PageView, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return PageView{}, err
	}
	tree, err := s.Tree(ctx, speaker)
	if err != nil {
		return PageView{}, err
	}
	page, eventsByTurn, err := s.pageWindow(ctx, datasetID, pageN)
	if err != nil {
		return PageView{}, err
	}

	view := PageView{
		DatasetID:  datasetID,
		Speaker:    speaker,
		Page:       page.Number,
		TotalPages: page.TotalPages,
		HasPrev:    page.HasPrev,
		HasNext:    page.HasNext,
	}

	var pageEvents []store.DialogEvent
	turnIDs := make([]int64, 0, len(page.Items))
	for _, turn := range page.Items {
		turnIDs = append(turnIDs, turn.ID)
		tv := TurnView{
			ID:          turn.ID,
			TurnN:       turn.TurnN,
			Timestamp:   turn.Timestamp.Format("15:04:05"),
			MainSpeaker: turn.MainSpeaker,
			Events:      []EventView{},
		}
		for _, ev := range eventsByTurn[turn.ID] {
			tv.Events = append(tv.Events, EventView{
				ID:        ev.ID,
				EventN:    ev.EventN,
				Speaker:   ev.Speaker,
				Plaintext: ev.Plaintext,
			})
			pageEvents = append(pageEvents, ev)
		}
		view.Turns = append(view.Turns, tv)
	}

	view.Groups = annotate.PopulateChoices(tree, pageEvents)

	latest, err := s.store.LatestAnnotationForTurns(ctx, datasetID, speaker, session.UserID, turnIDs)
	switch {
	case err == nil:
		view.Latest = &LatestView{
			AnnotationID:   latest.ID,
			CreatedAt:      latest.CreatedAt,
			CommentSummary: latest.CommentSummary,
		}
	case errors.Is(err, store.ErrNotFound):
		// first visit to this window
	default:
		return PageView{}, err
	}
	return view, nil
}

// SubmitAnnotation validates and persists one page's submission as a fresh
// annotation instance covering the page's turns.
func (s *Service) SubmitAnnotation(ctx context.Context, session Session, datasetID int64, speaker store.Speaker, pageN int, form url.Values) (store.Annotation, error) {
	if err := s.authorize(session, rbac.ActionAnnotate); err != nil {
		return store.Annotation{}, err
	}
	tree, err := s.Tree(ctx, speaker)
	if err != nil {
		return store.Annotation{}, err
	}
	page, eventsByTurn, err := s.pageWindow(ctx, datasetID, pageN)
	if err != nil {
		return store.Annotation{}, err
	}
	turnIDs := make([]int64, 0, len(page.Items))
	var pageEvents []store.DialogEvent
	for _, turn := range page.Items {
		turnIDs = append(turnIDs, turn.ID)
		pageEvents = append(pageEvents, eventsByTurn[turn.ID]...)
	}

	ann, err := annotate.Submit(ctx, s.store, tree, form, datasetID, session.UserID, turnIDs, pageEvents)
	if err != nil {
		var verr *annotate.ValidationError
		switch {
		case errors.As(err, &verr):
			return store.Annotation{}, domainError(http.StatusUnprocessableEntity, "VALIDATION_FAILED", "Annotation rejected", verr.Fields)
		case errors.Is(err, schema.ErrNotFound):
			return store.Annotation{}, notFound(err.Error())
		}
		return store.Annotation{}, err
	}
	s.log.Info("annotation saved",
		zap.Int64("annotation_id", ann.ID),
		zap.Int64("dataset_id", datasetID),
		zap.String("speaker", string(speaker)),
		zap.Int64("author_id", session.UserID),
		zap.Int("page", pageN))
	return ann, nil
}

// --- social media ---

func (s *Service) SMPosts(ctx context.Context, session Session, datasetID int64) ([]store.SMPost, error) {
	if err := s.authorize(session, rbac.ActionRead); err != nil {
		return nil, err
	}
	ds, err := s.GetDataset(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if ds.Kind != store.DatasetSocialMedia {
		return nil, badRequest("DATASET_KIND", "posts exist only for social media datasets")
	}
	return s.store.ListSMPosts(ctx, datasetID)
}

func (s *Service) SubmitSMAnnotation(ctx context.Context, session Session, postID int64, body, kind string) (store.SMAnnotation, error) {
	if err := s.authorize(session, rbac.ActionAnnotate); err != nil {
		return store.SMAnnotation{}, err
	}
	body = strings.TrimSpace(body)
	if body == "" {
		return store.SMAnnotation{}, badRequest("ANNOTATION_INVALID", "annotation body is required")
	}
	if kind == "" {
		kind = "general"
	}
	ann, err := s.store.InsertSMAnnotation(ctx, store.SMAnnotation{
		SMPostID: postID,
		AuthorID: session.UserID,
		Body:     body,
		Kind:     kind,
	})
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.SMAnnotation{}, notFound("post not found")
		}
		return store.SMAnnotation{}, err
	}
	return ann, nil
}

// --- ingestion ---

func (s *Service) IngestTranscript(ctx context.Context, session Session, datasetID int64, r io.Reader) (int, int, error) {
	if err := s.authorize(session, rbac.ActionAdmin); err != nil {
		return 0, 0, err
	}
	ds, err := s.GetDataset(ctx, datasetID)
	if err != nil {
		return 0, 0, err
	}
	if ds.Kind != store.DatasetPsychotherapy {
		return 0, 0, badRequest("DATASET_KIND", "transcripts belong to psychotherapy datasets")
	}
	turns, events, err := s.ingester.IngestTranscript(ctx, datasetID, r)
	if err != nil {
		return 0, 0, err
	}
	if s.search != nil {
		s.search.IndexDataset(ctx, datasetID)
	}
	return turns, events, nil
}

func (s *Service) IngestThreads(ctx context.Context, session Session, datasetID int64, r io.Reader) (int, error) {
	if err := s.authorize(session, rbac.ActionAdmin); err != nil {
		return 0, err
	}
	ds, err := s.GetDataset(ctx, datasetID)
	if err != nil {
		return 0, err
	}
	if ds.Kind != store.DatasetSocialMedia {
		return 0, badRequest("DATASET_KIND", "threads belong to social media datasets")
	}
	n, err := s.ingester.IngestThreads(ctx, datasetID, r)
	if err != nil {
		return 0, err
	}
	if s.search != nil {
		s.search.IndexDataset(ctx, datasetID)
	}
	return n, nil
}

// --- export ---

func (s *Service) Export(ctx context.Context, session Session, username, datasetName string) ([]export.Result, error) {
	if err := s.authorize(session, rbac.ActionExport); err != nil {
		return nil, err
	}
	results, err := s.exporter.Export(ctx, username, datasetName)
	if err != nil {
		switch {
		case errors.Is(err, store.ErrNotFound):
			return nil, notFound(err.Error())
		case errors.Is(err, export.ErrNothingToExport):
			return nil, notFound("no annotations to export")
		}
		return nil, err
	}
	return results, nil
}

// --- search ---

func (s *Service) Search(q search.Query) search.Response {
	if s.search == nil {
		return search.Response{Results: []search.Result{}, Query: q.Text}
	}
	return s.search.Search(q)
}
