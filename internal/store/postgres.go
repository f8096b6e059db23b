package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a referenced row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when an insert violates a uniqueness constraint.
var ErrConflict = errors.New("conflict")

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// --- users ---

func (s *PostgresStore) CreateUser(ctx context.Context, user User) (User, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO users (username, email, password_hash, role)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, user.Username, user.Email, user.PasswordHash, user.Role).Scan(&user.ID, &user.CreatedAt)
	if isUniqueViolation(err) {
		return User{}, fmt.Errorf("user %q: %w", user.Username, ErrConflict)
	}
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, role, created_at
		FROM users WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %q: %w", username, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, id int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT id, username, email, password_hash, role, created_at
		FROM users WHERE id = $1
	`, id).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("user %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}

// --- datasets ---

func (s *PostgresStore) CreateDataset(ctx context.Context, ds Dataset) (Dataset, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO datasets (name, description, kind, author_id)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, ds.Name, ds.Description, ds.Kind, ds.AuthorID).Scan(&ds.ID, &ds.CreatedAt)
	if isUniqueViolation(err) {
		return Dataset{}, fmt.Errorf("dataset %q: %w", ds.Name, ErrConflict)
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("insert dataset: %w", err)
	}
	return ds, nil
}

func (s *PostgresStore) GetDataset(ctx context.Context, id int64) (Dataset, error) {
	var ds Dataset
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, kind, author_id, created_at
		FROM datasets WHERE id = $1
	`, id).Scan(&ds.ID, &ds.Name, &ds.Description, &ds.Kind, &ds.AuthorID, &ds.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Dataset{}, fmt.Errorf("dataset %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("lookup dataset: %w", err)
	}
	return ds, nil
}

func (s *PostgresStore) GetDatasetByName(ctx context.Context, name string) (Dataset, error) {
	var ds Dataset
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, description, kind, author_id, created_at
		FROM datasets WHERE name = $1
	`, name).Scan(&ds.ID, &ds.Name, &ds.Description, &ds.Kind, &ds.AuthorID, &ds.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Dataset{}, fmt.Errorf("dataset %q: %w", name, ErrNotFound)
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("lookup dataset: %w", err)
	}
	return ds, nil
}

func (s *PostgresStore) ListDatasets(ctx context.Context) ([]Dataset, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, description, kind, author_id, created_at
		FROM datasets ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("list datasets: %w", err)
	}
	defer rows.Close()

	var out []Dataset
	for rows.Next() {
		var ds Dataset
		if err := rows.Scan(&ds.ID, &ds.Name, &ds.Description, &ds.Kind, &ds.AuthorID, &ds.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan dataset: %w", err)
		}
		out = append(out, ds)
	}
	return out, rows.Err()
}

// --- transcript ---

// InsertTranscript persists the parsed turns and events of one transcript in
// a single transaction. The events of turns[i] are events[i].
func (s *PostgresStore) InsertTranscript(ctx context.Context, datasetID int64, turns []DialogTurn, events [][]DialogEvent) error {
	if len(turns) != len(events) {
		return fmt.Errorf("insert transcript: %d turns but %d event groups", len(turns), len(events))
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transcript tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for i, turn := range turns {
		var turnID int64
		err := tx.QueryRowContext(ctx, `
			INSERT INTO dialog_turns (dataset_id, turn_n, ts, main_speaker)
			VALUES ($1, $2, $3, $4)
			RETURNING id
		`, datasetID, turn.TurnN, turn.Timestamp.Format("15:04:05"), turn.MainSpeaker).Scan(&turnID)
		if err != nil {
			return fmt.Errorf("insert dialog turn %d: %w", turn.TurnN, err)
		}
		for _, event := range events[i] {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO dialog_events (dataset_id, dialog_turn_id, event_n, speaker, plaintext)
				VALUES ($1, $2, $3, $4, $5)
			`, datasetID, turnID, event.EventN, event.Speaker, event.Plaintext); err != nil {
				return fmt.Errorf("insert dialog event %d: %w", event.EventN, err)
			}
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transcript tx: %w", err)
	}
	return nil
}

// ListDialogTurns returns a dataset's turns ordered by time of day.
func (s *PostgresStore) ListDialogTurns(ctx context.Context, datasetID int64) ([]DialogTurn, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dataset_id, turn_n, ts, main_speaker
		FROM dialog_turns WHERE dataset_id = $1 ORDER BY ts, turn_n
	`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list dialog turns: %w", err)
	}
	defer rows.Close()

	var out []DialogTurn
	for rows.Next() {
		var turn DialogTurn
		var ts string
		if err := rows.Scan(&turn.ID, &turn.DatasetID, &turn.TurnN, &ts, &turn.MainSpeaker); err != nil {
			return nil, fmt.Errorf("scan dialog turn: %w", err)
		}
		turn.Timestamp, err = time.Parse("15:04:05", ts)
		if err != nil {
			return nil, fmt.Errorf("parse turn timestamp %q: %w", ts, err)
		}
		out = append(out, turn)
	}
	return out, rows.Err()
}

// ListDialogEvents returns the events of the given turns, grouped per turn in
// the order the turn ids are supplied, each group ordered by event_n.
func (s *PostgresStore) ListDialogEvents(ctx context.Context, turnIDs []int64) (map[int64][]DialogEvent, error) {
	byTurn := make(map[int64][]DialogEvent, len(turnIDs))
	if len(turnIDs) == 0 {
		return byTurn, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dataset_id, dialog_turn_id, event_n, speaker, plaintext
		FROM dialog_events WHERE dialog_turn_id = ANY($1) ORDER BY event_n
	`, turnIDs)
	if err != nil {
		return nil, fmt.Errorf("list dialog events: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var event DialogEvent
		if err := rows.Scan(&event.ID, &event.DatasetID, &event.DialogTurnID, &event.EventN, &event.Speaker, &event.Plaintext); err != nil {
			return nil, fmt.Errorf("scan dialog event: %w", err)
		}
		byTurn[event.DialogTurnID] = append(byTurn[event.DialogTurnID], event)
	}
	return byTurn, rows.Err()
}

// --- labels & scales ---

// LabelSpec is one node of a flattened label tree, referring to its parent by
// position in the slice (-1 for a top-level label). Parents precede children.
type LabelSpec struct {
	Name      string
	ParentIdx int
}

// InsertLabels bulk-creates a label tree in one transaction. On any failure
// nothing is kept.
func (s *PostgresStore) InsertLabels(ctx context.Context, speaker Speaker, specs []LabelSpec) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin label tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	ids := make([]int64, len(specs))
	for i, spec := range specs {
		var parent any
		if spec.ParentIdx >= 0 {
			if spec.ParentIdx >= i {
				return fmt.Errorf("label %q: parent index %d not yet inserted", spec.Name, spec.ParentIdx)
			}
			parent = ids[spec.ParentIdx]
		}
		err := tx.QueryRowContext(ctx, `
			INSERT INTO labels (speaker, label, parent_id)
			VALUES ($1, $2, $3)
			RETURNING id
		`, speaker, spec.Name, parent).Scan(&ids[i])
		if isUniqueViolation(err) {
			return fmt.Errorf("label %q: %w", spec.Name, ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("insert label %q: %w", spec.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit label tx: %w", err)
	}
	return nil
}

// DeleteLabels removes every label of the perspective. Scales and annotation
// associations referencing them go with them via ON DELETE CASCADE.
func (s *PostgresStore) DeleteLabels(ctx context.Context, speaker Speaker) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM labels WHERE speaker = $1`, speaker); err != nil {
		return fmt.Errorf("delete labels: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListLabels(ctx context.Context, speaker Speaker) ([]Label, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, speaker, label, parent_id
		FROM labels WHERE speaker = $1 ORDER BY id
	`, speaker)
	if err != nil {
		return nil, fmt.Errorf("list labels: %w", err)
	}
	defer rows.Close()

	var out []Label
	for rows.Next() {
		var label Label
		if err := rows.Scan(&label.ID, &label.Speaker, &label.Label, &label.ParentID); err != nil {
			return nil, fmt.Errorf("scan label: %w", err)
		}
		out = append(out, label)
	}
	return out, rows.Err()
}

// InsertScales bulk-creates scale rows in one transaction.
func (s *PostgresStore) InsertScales(ctx context.Context, scales []Scale) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin scale tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, scale := range scales {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO scales (speaker, scale_title, scale_level, label_id)
			VALUES ($1, $2, $3, $4)
		`, scale.Speaker, scale.ScaleTitle, scale.ScaleLevel, scale.LabelID)
		if isUniqueViolation(err) {
			return fmt.Errorf("scale %q/%q: %w", scale.ScaleTitle, scale.ScaleLevel, ErrConflict)
		}
		if err != nil {
			return fmt.Errorf("insert scale %q: %w", scale.ScaleTitle, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit scale tx: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteScales(ctx context.Context, speaker Speaker) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM scales WHERE speaker = $1`, speaker); err != nil {
		return fmt.Errorf("delete scales: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListScales(ctx context.Context, speaker Speaker) ([]Scale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, speaker, scale_title, scale_level, label_id
		FROM scales WHERE speaker = $1 ORDER BY id
	`, speaker)
	if err != nil {
		return nil, fmt.Errorf("list scales: %w", err)
	}
	defer rows.Close()

	var out []Scale
	for rows.Next() {
		var scale Scale
		if err := rows.Scan(&scale.ID, &scale.Speaker, &scale.ScaleTitle, &scale.ScaleLevel, &scale.LabelID); err != nil {
			return nil, fmt.Errorf("scan scale: %w", err)
		}
		out = append(out, scale)
	}
	return out, rows.Err()
}

// --- annotations ---

// SaveAnnotation persists a full annotation instance with its covered turns,
// label/scale associations, comments and evidence as one transaction.
func (s *PostgresStore) SaveAnnotation(ctx context.Context, ann Annotation, labels []LabelAssociation, scales []ScaleAssociation, comments []AnnotationComment, evidence []Evidence) (Annotation, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Annotation{}, fmt.Errorf("begin annotation tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO annotations (speaker, dataset_id, author_id, comment_summary)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, ann.Speaker, ann.DatasetID, ann.AuthorID, ann.CommentSummary).Scan(&ann.ID, &ann.CreatedAt)
	if err != nil {
		return Annotation{}, fmt.Errorf("insert annotation: %w", err)
	}

	for _, turnID := range ann.TurnIDs {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO annotation_turns (annotation_id, dialog_turn_id) VALUES ($1, $2)
		`, ann.ID, turnID); err != nil {
			return Annotation{}, fmt.Errorf("attach turn %d: %w", turnID, err)
		}
	}
	for _, assoc := range labels {
		_, err := tx.ExecContext(ctx, `
			INSERT INTO annotation_labels (annotation_id, label_id, is_additional)
			VALUES ($1, $2, $3)
		`, ann.ID, assoc.LabelID, assoc.IsAdditional)
		if isUniqueViolation(err) {
			return Annotation{}, fmt.Errorf("label association %d: %w", assoc.LabelID, ErrConflict)
		}
		if err != nil {
			return Annotation{}, fmt.Errorf("attach label %d: %w", assoc.LabelID, err)
		}
	}
	for _, assoc := range scales {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO annotation_scales (annotation_id, scale_id, is_additional)
			VALUES ($1, $2, $3)
		`, ann.ID, assoc.ScaleID, assoc.IsAdditional); err != nil {
			return Annotation{}, fmt.Errorf("attach scale %d: %w", assoc.ScaleID, err)
		}
	}
	for _, comment := range comments {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO annotation_comments (annotation_id, label_id, comment, is_additional)
			VALUES ($1, $2, $3, $4)
		`, ann.ID, comment.LabelID, comment.Comment, comment.IsAdditional); err != nil {
			return Annotation{}, fmt.Errorf("attach comment: %w", err)
		}
	}
	for _, ev := range evidence {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO annotation_evidence (annotation_id, label_id, dialog_event_id, is_additional)
			VALUES ($1, $2, $3, $4)
		`, ann.ID, ev.LabelID, ev.DialogEventID, ev.IsAdditional); err != nil {
			return Annotation{}, fmt.Errorf("attach evidence event %d: %w", ev.DialogEventID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return Annotation{}, fmt.Errorf("commit annotation tx: %w", err)
	}
	return ann, nil
}

// LatestAnnotationForTurns returns the newest annotation by the author that
// covers any of the given turns, or ErrNotFound when none exists.
func (s *PostgresStore) LatestAnnotationForTurns(ctx context.Context, datasetID int64, speaker Speaker, authorID int64, turnIDs []int64) (Annotation, error) {
	if len(turnIDs) == 0 {
		return Annotation{}, fmt.Errorf("annotation: %w", ErrNotFound)
	}
	var ann Annotation
	err := s.db.QueryRowContext(ctx, `
		SELECT DISTINCT a.id, a.speaker, a.dataset_id, a.author_id, a.comment_summary, a.created_at
		FROM annotations a
		JOIN annotation_turns at ON at.annotation_id = a.id
		WHERE a.dataset_id = $1 AND a.speaker = $2 AND a.author_id = $3
			AND at.dialog_turn_id = ANY($4)
		ORDER BY a.created_at DESC, a.id DESC
		LIMIT 1
	`, datasetID, speaker, authorID, turnIDs).Scan(
		&ann.ID, &ann.Speaker, &ann.DatasetID, &ann.AuthorID, &ann.CommentSummary, &ann.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Annotation{}, fmt.Errorf("annotation: %w", ErrNotFound)
	}
	if err != nil {
		return Annotation{}, fmt.Errorf("latest annotation: %w", err)
	}
	if ann.TurnIDs, err = s.annotationTurnIDs(ctx, ann.ID); err != nil {
		return Annotation{}, err
	}
	return ann, nil
}

func (s *PostgresStore) annotationTurnIDs(ctx context.Context, annotationID int64) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT dialog_turn_id FROM annotation_turns WHERE annotation_id = $1 ORDER BY dialog_turn_id
	`, annotationID)
	if err != nil {
		return nil, fmt.Errorf("annotation turns: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan annotation turn: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AnnotatedLabel pairs a resolved label with its association flag.
type AnnotatedLabel struct {
	Label        Label
	IsAdditional bool
}

// AnnotatedScale pairs a resolved scale with its association flag.
type AnnotatedScale struct {
	Scale        Scale
	IsAdditional bool
}

// CitedEvent is an evidence row joined with the cited event's sequence number.
type CitedEvent struct {
	Evidence Evidence
	EventN   int
}

func (s *PostgresStore) ListAnnotationLabels(ctx context.Context, annotationID int64) ([]AnnotatedLabel, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT l.id, l.speaker, l.label, l.parent_id, al.is_additional
		FROM annotation_labels al
		JOIN labels l ON l.id = al.label_id
		WHERE al.annotation_id = $1
		ORDER BY l.id
	`, annotationID)
	if err != nil {
		return nil, fmt.Errorf("annotation labels: %w", err)
	}
	defer rows.Close()

	var out []AnnotatedLabel
	for rows.Next() {
		var al AnnotatedLabel
		if err := rows.Scan(&al.Label.ID, &al.Label.Speaker, &al.Label.Label, &al.Label.ParentID, &al.IsAdditional); err != nil {
			return nil, fmt.Errorf("scan annotation label: %w", err)
		}
		out = append(out, al)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAnnotationScales(ctx context.Context, annotationID int64) ([]AnnotatedScale, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT sc.id, sc.speaker, sc.scale_title, sc.scale_level, sc.label_id, ascale.is_additional
		FROM annotation_scales ascale
		JOIN scales sc ON sc.id = ascale.scale_id
		WHERE ascale.annotation_id = $1
		ORDER BY sc.id
	`, annotationID)
	if err != nil {
		return nil, fmt.Errorf("annotation scales: %w", err)
	}
	defer rows.Close()

	var out []AnnotatedScale
	for rows.Next() {
		var as AnnotatedScale
		if err := rows.Scan(&as.Scale.ID, &as.Scale.Speaker, &as.Scale.ScaleTitle, &as.Scale.ScaleLevel, &as.Scale.LabelID, &as.IsAdditional); err != nil {
			return nil, fmt.Errorf("scan annotation scale: %w", err)
		}
		out = append(out, as)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAnnotationComments(ctx context.Context, annotationID int64) ([]AnnotationComment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, annotation_id, label_id, comment, is_additional
		FROM annotation_comments WHERE annotation_id = $1 ORDER BY id
	`, annotationID)
	if err != nil {
		return nil, fmt.Errorf("annotation comments: %w", err)
	}
	defer rows.Close()

	var out []AnnotationComment
	for rows.Next() {
		var comment AnnotationComment
		if err := rows.Scan(&comment.ID, &comment.AnnotationID, &comment.LabelID, &comment.Comment, &comment.IsAdditional); err != nil {
			return nil, fmt.Errorf("scan annotation comment: %w", err)
		}
		out = append(out, comment)
	}
	return out, rows.Err()
}

func (s *PostgresStore) ListAnnotationEvidence(ctx context.Context, annotationID int64) ([]CitedEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT e.id, e.annotation_id, e.label_id, e.dialog_event_id, e.is_additional, de.event_n
		FROM annotation_evidence e
		JOIN dialog_events de ON de.id = e.dialog_event_id
		WHERE e.annotation_id = $1
		ORDER BY de.event_n
	`, annotationID)
	if err != nil {
		return nil, fmt.Errorf("annotation evidence: %w", err)
	}
	defer rows.Close()

	var out []CitedEvent
	for rows.Next() {
		var ce CitedEvent
		if err := rows.Scan(&ce.Evidence.ID, &ce.Evidence.AnnotationID, &ce.Evidence.LabelID, &ce.Evidence.DialogEventID, &ce.Evidence.IsAdditional, &ce.EventN); err != nil {
			return nil, fmt.Errorf("scan evidence: %w", err)
		}
		out = append(out, ce)
	}
	return out, rows.Err()
}

// --- social media ---

// InsertSMThread persists a post and its replies in one transaction.
func (s *PostgresStore) InsertSMThread(ctx context.Context, post SMPost, replies []SMReply) (SMPost, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return SMPost{}, fmt.Errorf("begin sm thread tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	err = tx.QueryRowContext(ctx, `
		INSERT INTO sm_posts (dataset_id, post_id, question, user_id, timeline_id)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING id
	`, post.DatasetID, post.PostID, post.Question, post.UserID, post.TimelineID).Scan(&post.ID)
	if err != nil {
		return SMPost{}, fmt.Errorf("insert sm post: %w", err)
	}
	for _, reply := range replies {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO sm_replies (sm_post_id, reply_n, comment)
			VALUES ($1, $2, $3)
		`, post.ID, reply.ReplyN, reply.Comment); err != nil {
			return SMPost{}, fmt.Errorf("insert sm reply %d: %w", reply.ReplyN, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return SMPost{}, fmt.Errorf("commit sm thread tx: %w", err)
	}
	return post, nil
}

func (s *PostgresStore) ListSMPosts(ctx context.Context, datasetID int64) ([]SMPost, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, dataset_id, post_id, question, user_id, timeline_id
		FROM sm_posts WHERE dataset_id = $1 ORDER BY post_id
	`, datasetID)
	if err != nil {
		return nil, fmt.Errorf("list sm posts: %w", err)
	}
	defer rows.Close()

	var out []SMPost
	for rows.Next() {
		var post SMPost
		if err := rows.Scan(&post.ID, &post.DatasetID, &post.PostID, &post.Question, &post.UserID, &post.TimelineID); err != nil {
			return nil, fmt.Errorf("scan sm post: %w", err)
		}
		out = append(out, post)
	}
	return out, rows.Err()
}

func (s *PostgresStore) InsertSMAnnotation(ctx context.Context, ann SMAnnotation) (SMAnnotation, error) {
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO sm_annotations (sm_post_id, author_id, body, kind)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, ann.SMPostID, ann.AuthorID, ann.Body, ann.Kind).Scan(&ann.ID, &ann.CreatedAt)
	if err != nil {
		return SMAnnotation{}, fmt.Errorf("insert sm annotation: %w", err)
	}
	return ann, nil
}

// --- sessions ---

func (s *PostgresStore) SaveRefreshSession(ctx context.Context, tokenHash string, userID int64, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (token_hash) DO UPDATE SET user_id=EXCLUDED.user_id, expires_at=EXCLUDED.expires_at, revoked_at=NULL
	`, tokenHash, userID, expiresAt)
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx, `
		SELECT u.id, u.username, u.email, u.password_hash, u.role, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = $1
			AND rs.revoked_at IS NULL
			AND rs.expires_at > NOW()
	`, tokenHash).Scan(&user.ID, &user.Username, &user.Email, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return User{}, fmt.Errorf("refresh session: %w", ErrNotFound)
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	return user, nil
}

func (s *PostgresStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	if _, err := s.db.ExecContext(ctx, `UPDATE refresh_sessions SET revoked_at=NOW() WHERE token_hash=$1`, tokenHash); err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *PostgresStore) RevokeAccessToken(ctx context.Context, jti string, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO revoked_tokens (jti, expires_at) VALUES ($1, $2)
		ON CONFLICT (jti) DO NOTHING
	`, jti, expiresAt)
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *PostgresStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS(SELECT 1 FROM revoked_tokens WHERE jti=$1 AND expires_at > NOW())
	`, jti).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return exists, nil
}
