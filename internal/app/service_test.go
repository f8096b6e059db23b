package app

import (
	"context"
	"net/http"
	"net/url"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"codabook/api/internal/auth"
	"codabook/api/internal/authpw"
	"codabook/api/internal/config"
	"codabook/api/internal/store"
)

type fakeStore struct {
	createUserFn               func(context.Context, store.User) (store.User, error)
	getUserByUsernameFn        func(context.Context, string) (store.User, error)
	getUserByIDFn              func(context.Context, int64) (store.User, error)
	createDatasetFn            func(context.Context, store.Dataset) (store.Dataset, error)
	getDatasetFn               func(context.Context, int64) (store.Dataset, error)
	listDatasetsFn             func(context.Context) ([]store.Dataset, error)
	listDialogTurnsFn          func(context.Context, int64) ([]store.DialogTurn, error)
	listDialogEventsFn         func(context.Context, []int64) (map[int64][]store.DialogEvent, error)
	listLabelsFn               func(context.Context, store.Speaker) ([]store.Label, error)
	listScalesFn               func(context.Context, store.Speaker) ([]store.Scale, error)
	saveAnnotationFn           func(context.Context, store.Annotation, []store.LabelAssociation, []store.ScaleAssociation, []store.AnnotationComment, []store.Evidence) (store.Annotation, error)
	latestAnnotationForTurnsFn func(context.Context, int64, store.Speaker, int64, []int64) (store.Annotation, error)
	listSMPostsFn              func(context.Context, int64) ([]store.SMPost, error)
	insertSMAnnotationFn       func(context.Context, store.SMAnnotation) (store.SMAnnotation, error)
	saveRefreshSessionFn       func(context.Context, string, int64, time.Time) error
	lookupRefreshSessionFn     func(context.Context, string) (store.User, error)
	revokeRefreshSessionFn     func(context.Context, string) error
	isAccessTokenRevokedFn     func(context.Context, string) (bool, error)
}

func (f *fakeStore) Ping(context.Context) error { return nil }

func (f *fakeStore) CreateUser(ctx context.Context, user store.User) (store.User, error) {
	if f.createUserFn != nil {
		return f.createUserFn(ctx, user)
	}
	user.ID = 1
	return user, nil
}

func (f *fakeStore) GetUserByUsername(ctx context.Context, username string) (store.User, error) {
	if f.getUserByUsernameFn != nil {
		return f.getUserByUsernameFn(ctx, username)
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) GetUserByID(ctx context.Context, id int64) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, id)
	}
	return store.User{ID: id, Username: "ada", Role: "annotator"}, nil
}

func (f *fakeStore) CreateDataset(ctx context.Context, ds store.Dataset) (store.Dataset, error) {
	if f.createDatasetFn != nil {
		return f.createDatasetFn(ctx, ds)
	}
	ds.ID = 1
	return ds, nil
}

func (f *fakeStore) GetDataset(ctx context.Context, id int64) (store.Dataset, error) {
	if f.getDatasetFn != nil {
		return f.getDatasetFn(ctx, id)
	}
	return store.Dataset{}, store.ErrNotFound
}

func (f *fakeStore) ListDatasets(ctx context.Context) ([]store.Dataset, error) {
	if f.listDatasetsFn != nil {
		return f.listDatasetsFn(ctx)
	}
	return nil, nil
}

func (f *fakeStore) ListDialogTurns(ctx context.Context, datasetID int64) ([]store.DialogTurn, error) {
	if f.listDialogTurnsFn != nil {
		return f.listDialogTurnsFn(ctx, datasetID)
	}
	return nil, nil
}

func (f *fakeStore) ListDialogEvents(ctx context.Context, turnIDs []int64) (map[int64][]store.DialogEvent, error) {
	if f.listDialogEventsFn != nil {
		return f.listDialogEventsFn(ctx, turnIDs)
	}
	return map[int64][]store.DialogEvent{}, nil
}

func (f *fakeStore) InsertLabels(context.Context, store.Speaker, []store.LabelSpec) error {
	return nil
}

func (f *fakeStore) DeleteLabels(context.Context, store.Speaker) error { return nil }

func (f *fakeStore) ListLabels(ctx context.Context, speaker store.Speaker) ([]store.Label, error) {
	if f.listLabelsFn != nil {
		return f.listLabelsFn(ctx, speaker)
	}
	return nil, nil
}

func (f *fakeStore) InsertScales(context.Context, []store.Scale) error { return nil }
func (f *fakeStore) DeleteScales(context.Context, store.Speaker) error { return nil }

func (f *fakeStore) ListScales(ctx context.Context, speaker store.Speaker) ([]store.Scale, error) {
	if f.listScalesFn != nil {
		return f.listScalesFn(ctx, speaker)
	}
	return nil, nil
}

func (f *fakeStore) SaveAnnotation(ctx context.Context, ann store.Annotation, labels []store.LabelAssociation, scales []store.ScaleAssociation, comments []store.AnnotationComment, evidence []store.Evidence) (store.Annotation, error) {
	if f.saveAnnotationFn != nil {
		return f.saveAnnotationFn(ctx, ann, labels, scales, comments, evidence)
	}
	ann.ID = 1
	ann.CreatedAt = time.Now()
	return ann, nil
}

func (f *fakeStore) LatestAnnotationForTurns(ctx context.Context, datasetID int64, speaker store.Speaker, authorID int64, turnIDs []int64) (store.Annotation, error) {
	if f.latestAnnotationForTurnsFn != nil {
		return f.latestAnnotationForTurnsFn(ctx, datasetID, speaker, authorID, turnIDs)
	}
	return store.Annotation{}, store.ErrNotFound
}

func (f *fakeStore) ListSMPosts(ctx context.Context, datasetID int64) ([]store.SMPost, error) {
	if f.listSMPostsFn != nil {
		return f.listSMPostsFn(ctx, datasetID)
	}
	return nil, nil
}

func (f *fakeStore) InsertSMAnnotation(ctx context.Context, ann store.SMAnnotation) (store.SMAnnotation, error) {
	if f.insertSMAnnotationFn != nil {
		return f.insertSMAnnotationFn(ctx, ann)
	}
	ann.ID = 1
	return ann, nil
}

func (f *fakeStore) SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	if f.saveRefreshSessionFn != nil {
		return f.saveRefreshSessionFn(ctx, tokenHash, userID, expiresAt)
	}
	return nil
}

func (f *fakeStore) LookupRefreshSession(ctx context.Context, tokenHash string) (store.User, error) {
	if f.lookupRefreshSessionFn != nil {
		return f.lookupRefreshSessionFn(ctx, tokenHash)
	}
	return store.User{}, store.ErrNotFound
}

func (f *fakeStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if f.revokeRefreshSessionFn != nil {
		return f.revokeRefreshSessionFn(ctx, tokenHash)
	}
	return nil
}

func (f *fakeStore) RevokeAccessToken(context.Context, string, time.Time) error { return nil }

func (f *fakeStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	if f.isAccessTokenRevokedFn != nil {
		return f.isAccessTokenRevokedFn(ctx, jti)
	}
	return false, nil
}

func testConfig() config.Config {
	return config.Config{
		JWTSecret:     "test-secret",
		AccessTTL:     15 * time.Minute,
		RefreshTTL:    24 * time.Hour,
		SegmentWindow: 5 * time.Minute,
	}
}

func newTestService(fs *fakeStore) *Service {
	return New(testConfig(), fs, nil, nil, nil, zap.NewNop())
}

// clientLabels is a minimal client codebook: six top-level categories with a
// couple of children under the first.
func clientLabels() []store.Label {
	parent := func(id int64) *int64 { return &id }
	return []store.Label{
		{ID: 1, Speaker: store.SpeakerClient, Label: "Need"},
		{ID: 2, Speaker: store.SpeakerClient, Label: "Attachment", ParentID: parent(1)},
		{ID: 3, Speaker: store.SpeakerClient, Label: "Other", ParentID: parent(1)},
		{ID: 4, Speaker: store.SpeakerClient, Label: "Response of other"},
		{ID: 5, Speaker: store.SpeakerClient, Label: "Response of self"},
		{ID: 6, Speaker: store.SpeakerClient, Label: "Emotional experience and regulation"},
		{ID: 7, Speaker: store.SpeakerClient, Label: "Insight"},
		{ID: 8, Speaker: store.SpeakerClient, Label: "Moment of change"},
	}
}

func sessionClock(h, m, s int) time.Time {
	return time.Date(0, 1, 1, h, m, s, 0, time.UTC)
}

func therapyDataset(id int64) store.Dataset {
	return store.Dataset{ID: id, Name: "session-12", Kind: store.DatasetPsychotherapy}
}

func annotatorSession() Session {
	return Session{UserID: 7, UserName: "ada", Role: "annotator"}
}

func TestSignUpIssuesSession(t *testing.T) {
	created := make(map[string]store.User)
	fs := &fakeStore{
		createUserFn: func(_ context.Context, user store.User) (store.User, error) {
			user.ID = 42
			created[user.Username] = user
			return user, nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.SignUp(context.Background(), signUpReq("ada", "ada@example.org", "long-enough-pw"))
	require.NoError(t, err)

	assert.Equal(t, int64(42), session.UserID)
	assert.Equal(t, "annotator", session.Role)
	assert.NotEmpty(t, session.RefreshToken)

	claims, err := auth.ParseToken([]byte("test-secret"), session.Token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.Sub)
	assert.Equal(t, "ada", claims.Name)

	stored := created["ada"]
	assert.NotEqual(t, "long-enough-pw", stored.PasswordHash)
}

func TestLoginVerifiesPassword(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("correct horse"), bcrypt.DefaultCost)
	require.NoError(t, err)
	fs := &fakeStore{
		getUserByUsernameFn: func(_ context.Context, username string) (store.User, error) {
			if username != "ada" {
				return store.User{}, store.ErrNotFound
			}
			return store.User{ID: 7, Username: "ada", PasswordHash: string(hash), Role: "annotator"}, nil
		},
	}
	svc := newTestService(fs)

	session, err := svc.Login(context.Background(), "ada", "correct horse")
	require.NoError(t, err)
	assert.Equal(t, int64(7), session.UserID)

	_, err = svc.Login(context.Background(), "ada", "wrong")
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusUnauthorized, domainErr.Status)
}

func TestRefreshRotatesToken(t *testing.T) {
	saved := make(map[string]int64)
	var revoked []string
	fs := &fakeStore{
		saveRefreshSessionFn: func(_ context.Context, hash string, userID int64, _ time.Time) error {
			saved[hash] = userID
			return nil
		},
		lookupRefreshSessionFn: func(_ context.Context, hash string) (store.User, error) {
			userID, ok := saved[hash]
			if !ok {
				return store.User{}, store.ErrNotFound
			}
			return store.User{ID: userID, Username: "ada", Role: "annotator"}, nil
		},
		revokeRefreshSessionFn: func(_ context.Context, hash string) error {
			revoked = append(revoked, hash)
			delete(saved, hash)
			return nil
		},
		getUserByUsernameFn: func(context.Context, string) (store.User, error) {
			return store.User{}, store.ErrNotFound
		},
	}
	svc := newTestService(fs)

	first, err := svc.SignUp(context.Background(), signUpReq("ada", "", "long-enough-pw"))
	require.NoError(t, err)

	second, err := svc.Refresh(context.Background(), first.RefreshToken)
	require.NoError(t, err)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Len(t, revoked, 1)

	// the old token no longer resolves
	_, err = svc.Refresh(context.Background(), first.RefreshToken)
	assert.Error(t, err)
}

func TestSessionFromTokenRejectsRevoked(t *testing.T) {
	fs := &fakeStore{
		isAccessTokenRevokedFn: func(_ context.Context, jti string) (bool, error) {
			return jti == "dead", nil
		},
	}
	svc := newTestService(fs)

	live, err := auth.IssueToken([]byte("test-secret"), auth.Claims{Sub: 7, Name: "ada", JTI: "live", Exp: time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)
	dead, err := auth.IssueToken([]byte("test-secret"), auth.Claims{Sub: 7, Name: "ada", JTI: "dead", Exp: time.Now().Add(time.Hour).Unix()})
	require.NoError(t, err)

	session, err := svc.SessionFromToken(context.Background(), live)
	require.NoError(t, err)
	assert.Equal(t, int64(7), session.UserID)

	_, err = svc.SessionFromToken(context.Background(), dead)
	assert.ErrorIs(t, err, auth.ErrInvalidToken)
}

func TestAnnotationPageAssemblesWindow(t *testing.T) {
	fs := &fakeStore{
		getDatasetFn: func(_ context.Context, id int64) (store.Dataset, error) {
			return therapyDataset(id), nil
		},
		listDialogTurnsFn: func(context.Context, int64) ([]store.DialogTurn, error) {
			return []store.DialogTurn{
				{ID: 10, TurnN: 0, Timestamp: sessionClock(0, 0, 0), MainSpeaker: "client"},
				{ID: 11, TurnN: 1, Timestamp: sessionClock(0, 2, 0), MainSpeaker: "therapist"},
				{ID: 12, TurnN: 2, Timestamp: sessionClock(0, 10, 0), MainSpeaker: "client"},
			}, nil
		},
		listDialogEventsFn: func(_ context.Context, turnIDs []int64) (map[int64][]store.DialogEvent, error) {
			return map[int64][]store.DialogEvent{
				10: {{ID: 100, DialogTurnID: 10, EventN: 0, Speaker: "client", Plaintext: "I feel stuck."}},
				11: {{ID: 101, DialogTurnID: 11, EventN: 1, Speaker: "therapist", Plaintext: "Say more."}},
			}, nil
		},
		listLabelsFn: func(_ context.Context, speaker store.Speaker) ([]store.Label, error) {
			if speaker != store.SpeakerClient {
				return nil, nil
			}
			return clientLabels(), nil
		},
	}
	svc := newTestService(fs)

	view, err := svc.AnnotationPage(context.Background(), annotatorSession(), 1, store.SpeakerClient, 1)
	require.NoError(t, err)

	// the 10-minute gap splits the transcript into two windows
	assert.Equal(t, 1, view.Page)
	assert.Equal(t, 2, view.TotalPages)
	assert.True(t, view.HasNext)
	require.Len(t, view.Turns, 2)
	assert.Equal(t, "00:00:00", view.Turns[0].Timestamp)
	require.Len(t, view.Turns[0].Events, 1)

	require.Len(t, view.Groups, 6)
	assert.Equal(t, "Need", view.Groups[0].LabelName)
	assert.Nil(t, view.Latest)
}

func TestAnnotationPageReportsPriorAnnotation(t *testing.T) {
	when := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	fs := &fakeStore{
		getDatasetFn: func(_ context.Context, id int64) (store.Dataset, error) {
			return therapyDataset(id), nil
		},
		listDialogTurnsFn: func(context.Context, int64) ([]store.DialogTurn, error) {
			return []store.DialogTurn{{ID: 10, Timestamp: sessionClock(0, 0, 0), MainSpeaker: "client"}}, nil
		},
		listLabelsFn: func(context.Context, store.Speaker) ([]store.Label, error) {
			return clientLabels(), nil
		},
		latestAnnotationForTurnsFn: func(_ context.Context, _ int64, _ store.Speaker, authorID int64, turnIDs []int64) (store.Annotation, error) {
			assert.Equal(t, int64(7), authorID)
			assert.Equal(t, []int64{10}, turnIDs)
			return store.Annotation{ID: 99, CreatedAt: when, CommentSummary: "second pass"}, nil
		},
	}
	svc := newTestService(fs)

	view, err := svc.AnnotationPage(context.Background(), annotatorSession(), 1, store.SpeakerClient, 1)
	require.NoError(t, err)
	require.NotNil(t, view.Latest)
	assert.Equal(t, int64(99), view.Latest.AnnotationID)
	assert.Equal(t, "second pass", view.Latest.CommentSummary)
}

func TestAnnotationPageOutOfRange(t *testing.T) {
	fs := &fakeStore{
		getDatasetFn: func(_ context.Context, id int64) (store.Dataset, error) {
			return therapyDataset(id), nil
		},
		listDialogTurnsFn: func(context.Context, int64) ([]store.DialogTurn, error) {
			return []store.DialogTurn{{ID: 10, Timestamp: sessionClock(0, 0, 0), MainSpeaker: "client"}}, nil
		},
		listLabelsFn: func(context.Context, store.Speaker) ([]store.Label, error) {
			return clientLabels(), nil
		},
	}
	svc := newTestService(fs)

	_, err := svc.AnnotationPage(context.Background(), annotatorSession(), 1, store.SpeakerClient, 5)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusNotFound, domainErr.Status)
}

func TestSubmitAnnotationPersistsSelection(t *testing.T) {
	var savedLabels []store.LabelAssociation
	fs := &fakeStore{
		getDatasetFn: func(_ context.Context, id int64) (store.Dataset, error) {
			return therapyDataset(id), nil
		},
		listDialogTurnsFn: func(context.Context, int64) ([]store.DialogTurn, error) {
			return []store.DialogTurn{{ID: 10, Timestamp: sessionClock(0, 0, 0), MainSpeaker: "client"}}, nil
		},
		listLabelsFn: func(context.Context, store.Speaker) ([]store.Label, error) {
			return clientLabels(), nil
		},
		saveAnnotationFn: func(_ context.Context, ann store.Annotation, labels []store.LabelAssociation, _ []store.ScaleAssociation, _ []store.AnnotationComment, _ []store.Evidence) (store.Annotation, error) {
			savedLabels = labels
			ann.ID = 5
			return ann, nil
		},
	}
	svc := newTestService(fs)

	form := url.Values{}
	form.Set("label_a", "2")
	form.Set("comment_summary", "attachment need expressed")

	ann, err := svc.SubmitAnnotation(context.Background(), annotatorSession(), 1, store.SpeakerClient, 1, form)
	require.NoError(t, err)
	assert.Equal(t, int64(5), ann.ID)
	require.Len(t, savedLabels, 1)
	assert.Equal(t, int64(2), savedLabels[0].LabelID)
}

func TestSubmitAnnotationValidation(t *testing.T) {
	fs := &fakeStore{
		getDatasetFn: func(_ context.Context, id int64) (store.Dataset, error) {
			return therapyDataset(id), nil
		},
		listDialogTurnsFn: func(context.Context, int64) ([]store.DialogTurn, error) {
			return []store.DialogTurn{{ID: 10, Timestamp: sessionClock(0, 0, 0), MainSpeaker: "client"}}, nil
		},
		listLabelsFn: func(context.Context, store.Speaker) ([]store.Label, error) {
			return clientLabels(), nil
		},
	}
	svc := newTestService(fs)

	// "Other" selected without the required comment
	form := url.Values{}
	form.Set("label_a", "3")

	_, err := svc.SubmitAnnotation(context.Background(), annotatorSession(), 1, store.SpeakerClient, 1, form)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusUnprocessableEntity, domainErr.Status)
	assert.Equal(t, "VALIDATION_FAILED", domainErr.Code)
}

func TestViewerCannotAnnotate(t *testing.T) {
	svc := newTestService(&fakeStore{})
	viewer := Session{UserID: 3, UserName: "vi", Role: "viewer"}

	_, err := svc.SubmitAnnotation(context.Background(), viewer, 1, store.SpeakerClient, 1, url.Values{})
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusForbidden, domainErr.Status)

	err = svc.LoadCodebook(context.Background(), viewer, store.SpeakerClient, []byte(`{}`))
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusForbidden, domainErr.Status)
}

func TestTreeCacheInvalidatesOnLoad(t *testing.T) {
	calls := 0
	fs := &fakeStore{
		listLabelsFn: func(context.Context, store.Speaker) ([]store.Label, error) {
			calls++
			return clientLabels(), nil
		},
	}
	svc := newTestService(fs)
	admin := Session{UserID: 1, UserName: "root", Role: "admin"}

	_, err := svc.Tree(context.Background(), store.SpeakerClient)
	require.NoError(t, err)
	_, err = svc.Tree(context.Background(), store.SpeakerClient)
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	require.NoError(t, svc.LoadCodebook(context.Background(), admin, store.SpeakerClient, []byte(`{"Need": null}`)))
	_, err = svc.Tree(context.Background(), store.SpeakerClient)
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
}

func TestChildrenOfUnknownLabel(t *testing.T) {
	fs := &fakeStore{
		listLabelsFn: func(context.Context, store.Speaker) ([]store.Label, error) {
			return clientLabels(), nil
		},
	}
	svc := newTestService(fs)

	children, err := svc.ChildrenOf(context.Background(), store.SpeakerClient, 1)
	require.NoError(t, err)
	require.Len(t, children, 3) // placeholder + two children
	assert.Equal(t, int64(0), children[0].ID)

	_, err = svc.ChildrenOf(context.Background(), store.SpeakerClient, 999)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusNotFound, domainErr.Status)
}

func TestSMAnnotationRequiresBody(t *testing.T) {
	svc := newTestService(&fakeStore{})

	_, err := svc.SubmitSMAnnotation(context.Background(), annotatorSession(), 5, "   ", "")
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusBadRequest, domainErr.Status)

	ann, err := svc.SubmitSMAnnotation(context.Background(), annotatorSession(), 5, "evasive answer", "")
	require.NoError(t, err)
	assert.Equal(t, "general", ann.Kind)
}

func TestIngestRequiresMatchingKind(t *testing.T) {
	fs := &fakeStore{
		getDatasetFn: func(_ context.Context, id int64) (store.Dataset, error) {
			return store.Dataset{ID: id, Kind: store.DatasetSocialMedia}, nil
		},
	}
	svc := newTestService(fs)
	admin := Session{UserID: 1, UserName: "root", Role: "admin"}

	_, _, err := svc.IngestTranscript(context.Background(), admin, 1, nil)
	var domainErr *DomainError
	require.ErrorAs(t, err, &domainErr)
	assert.Equal(t, http.StatusBadRequest, domainErr.Status)
	assert.Equal(t, "DATASET_KIND", domainErr.Code)
}

func signUpReq(username, email, password string) authpw.SignUpRequest {
	return authpw.SignUpRequest{Username: username, Email: email, Password: password}
}
