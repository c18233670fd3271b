// Package sqlite реализует хранилище поверх встраиваемой SQLite (modernc.org/sqlite,
// без cgo). Схема версионируется миграциями golang-migrate из каталога migrations.
package sqlite

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	userColumns    = `id, email, password_hash, created_at`
	postColumns    = `id, title, content, author_id, created_at, updated_at`
	commentColumns = `id, post_id, author_id, content, created_at`
)

// Store реализует интерфейс Storage с использованием SQLite.
type Store struct {
	db  *sqlx.DB
	now func() time.Time
}

// New открывает базу по пути path (":memory:" для тестов) и применяет миграции.
func New(path string) (*Store, error) {
	db, err := sqlx.Open("sqlite", path+"?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// SQLite сериализует запись, а ":memory:" живет только в одном соединении
	db.SetMaxOpenConns(1)

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate применяет встроенные миграции.
func (s *Store) Migrate() error {
	src, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to read migrations: %w", err)
	}
	driver, err := migratesqlite.WithInstance(s.db.DB, &migratesqlite.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}
	// m.Close() не вызываем: он закрыл бы общее соединение s.db
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return domain.Persistence("ping", s.db.PingContext(ctx))
}

func (s *Store) Close() error {
	return s.db.Close()
}

// SQLDB отдает пул соединений для метрик.
func (s *Store) SQLDB() (*sql.DB, error) {
	return s.db.DB, nil
}

// mapError переводит ошибки драйвера в ошибки предметной области.
func mapError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	var se *msqlite.Error
	if errors.As(err, &se) {
		switch se.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE:
			return fmt.Errorf("%s: %w", op, domain.ErrEmailTaken)
		case sqlite3.SQLITE_CONSTRAINT_FOREIGNKEY:
			return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
		}
	}
	return domain.Persistence(op, err)
}

// === User Methods ===

func (s *Store) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	u := *user
	u.ID = uuid.NewString()
	u.CreatedAt = s.now()

	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES (:id, :email, :password_hash, :created_at)`, &u)
	if err != nil {
		return nil, mapError("create user", err)
	}
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	var u domain.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE id = ?`, id)
	if err != nil {
		return nil, mapError("get user "+id, err)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := s.db.GetContext(ctx, &u, `SELECT `+userColumns+` FROM users WHERE email = ?`, email)
	if err != nil {
		return nil, mapError("get user by email", err)
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	users := []*domain.User{}
	err := s.db.SelectContext(ctx, &users, `SELECT `+userColumns+` FROM users ORDER BY created_at ASC, rowid ASC`)
	return users, mapError("list users", err)
}

// === Post Methods ===

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	p := *post
	p.ID = uuid.NewString()
	p.CreatedAt = s.now()
	p.UpdatedAt = p.CreatedAt

	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO posts (`+postColumns+`) VALUES (:id, :title, :content, :author_id, :created_at, :updated_at)`, &p)
	if err != nil {
		return nil, mapError("create post", err)
	}
	return &p, nil
}

func (s *Store) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	var p domain.Post
	err := s.db.GetContext(ctx, &p, `SELECT `+postColumns+` FROM posts WHERE id = ?`, id)
	if err != nil {
		return nil, mapError("get post "+id, err)
	}
	return &p, nil
}

func (s *Store) ListPosts(ctx context.Context) ([]*domain.Post, error) {
	posts := []*domain.Post{}
	err := s.db.SelectContext(ctx, &posts, `SELECT `+postColumns+` FROM posts ORDER BY created_at DESC, rowid DESC`)
	return posts, mapError("list posts", err)
}

func (s *Store) UpdatePost(ctx context.Context, id string, patch domain.PostPatch) (*domain.Post, error) {
	// NULL в COALESCE оставляет поле как есть
	res, err := s.db.ExecContext(ctx, `
		UPDATE posts
		SET title = COALESCE(?, title), content = COALESCE(?, content), updated_at = ?
		WHERE id = ?`,
		patch.Title, patch.Content, s.now(), id)
	if err != nil {
		return nil, mapError("update post "+id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("update post %s: %w", id, domain.ErrNotFound)
	}
	return s.GetPostByID(ctx, id)
}

func (s *Store) DeletePost(ctx context.Context, id string) (*domain.Post, error) {
	// Пост нужен в ответе мутации, поэтому читаем его до удаления
	p, err := s.GetPostByID(ctx, id)
	if err != nil {
		return nil, err
	}
	// Комментарии удаляются каскадом (PRAGMA foreign_keys включена в DSN)
	res, err := s.db.ExecContext(ctx, `DELETE FROM posts WHERE id = ?`, id)
	if err != nil {
		return nil, mapError("delete post "+id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, fmt.Errorf("delete post %s: %w", id, domain.ErrNotFound)
	}
	return p, nil
}

// === Comment Methods ===

func (s *Store) CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error) {
	c := *comment
	c.ID = uuid.NewString()
	c.CreatedAt = s.now()

	_, err := s.db.NamedExecContext(ctx,
		`INSERT INTO comments (`+commentColumns+`) VALUES (:id, :post_id, :author_id, :content, :created_at)`, &c)
	if err != nil {
		return nil, mapError("create comment", err)
	}
	return &c, nil
}

func (s *Store) GetCommentByID(ctx context.Context, id string) (*domain.Comment, error) {
	var c domain.Comment
	err := s.db.GetContext(ctx, &c, `SELECT `+commentColumns+` FROM comments WHERE id = ?`, id)
	if err != nil {
		return nil, mapError("get comment "+id, err)
	}
	return &c, nil
}

func (s *Store) ListComments(ctx context.Context) ([]*domain.Comment, error) {
	comments := []*domain.Comment{}
	err := s.db.SelectContext(ctx, &comments, `SELECT `+commentColumns+` FROM comments ORDER BY created_at ASC, rowid ASC`)
	return comments, mapError("list comments", err)
}

// === Dataloader Methods ===

// selectIn выполняет запрос с "IN (?)", раскрытым через sqlx.In.
func (s *Store) selectIn(ctx context.Context, dest interface{}, query string, ids []string) error {
	q, args, err := sqlx.In(query, ids)
	if err != nil {
		return err
	}
	return s.db.SelectContext(ctx, dest, s.db.Rebind(q), args...)
}

func (s *Store) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	var users []*domain.User
	if err := s.selectIn(ctx, &users, `SELECT `+userColumns+` FROM users WHERE id IN (?)`, ids); err != nil {
		return nil, mapError("get users by ids", err)
	}

	result := make(map[string]*domain.User, len(users))
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

func (s *Store) GetPostsByIDs(ctx context.Context, ids []string) (map[string]*domain.Post, error) {
	var posts []*domain.Post
	if err := s.selectIn(ctx, &posts, `SELECT `+postColumns+` FROM posts WHERE id IN (?)`, ids); err != nil {
		return nil, mapError("get posts by ids", err)
	}

	result := make(map[string]*domain.Post, len(posts))
	for _, p := range posts {
		result[p.ID] = p
	}
	return result, nil
}

func (s *Store) GetPostsByAuthorIDs(ctx context.Context, authorIDs []string) (map[string][]*domain.Post, error) {
	var posts []*domain.Post
	err := s.selectIn(ctx, &posts,
		`SELECT `+postColumns+` FROM posts WHERE author_id IN (?) ORDER BY created_at DESC, rowid DESC`, authorIDs)
	if err != nil {
		return nil, mapError("get posts by author ids", err)
	}

	result := make(map[string][]*domain.Post, len(authorIDs))
	for _, p := range posts {
		result[p.AuthorID] = append(result[p.AuthorID], p)
	}
	return result, nil
}

func (s *Store) GetCommentsByAuthorIDs(ctx context.Context, authorIDs []string) (map[string][]*domain.Comment, error) {
	var comments []*domain.Comment
	err := s.selectIn(ctx, &comments,
		`SELECT `+commentColumns+` FROM comments WHERE author_id IN (?) ORDER BY created_at ASC, rowid ASC`, authorIDs)
	if err != nil {
		return nil, mapError("get comments by author ids", err)
	}

	result := make(map[string][]*domain.Comment, len(authorIDs))
	for _, c := range comments {
		result[c.AuthorID] = append(result[c.AuthorID], c)
	}
	return result, nil
}

func (s *Store) GetCommentsByPostIDs(ctx context.Context, postIDs []string) (map[string][]*domain.Comment, error) {
	var comments []*domain.Comment
	err := s.selectIn(ctx, &comments,
		`SELECT `+commentColumns+` FROM comments WHERE post_id IN (?) ORDER BY created_at ASC, rowid ASC`, postIDs)
	if err != nil {
		return nil, mapError("get comments by post ids", err)
	}

	result := make(map[string][]*domain.Comment, len(postIDs))
	for _, c := range comments {
		result[c.PostID] = append(result[c.PostID], c)
	}
	return result, nil
}
