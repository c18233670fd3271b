package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Store реализует интерфейс Storage с использованием PostgreSQL.
type Store struct {
	db *gorm.DB
}

// New создает новый экземпляр хранилища PostgreSQL и выполняет миграцию схемы.
func New(dsn string, logLevel logger.LogLevel) (*Store, error) {
	s, err := Open(postgres.Open(dsn), logLevel)
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// Open подключается через произвольный диалект без миграции (используется в тестах
// с go-sqlmock).
func Open(dialector gorm.Dialector, logLevel logger.LogLevel) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: logger.Default.LogMode(logLevel),
		// Ошибки драйвера переводятся в gorm.ErrDuplicatedKey / gorm.ErrForeignKeyViolated
		TranslateError: true,
		// Каждая операция - один оператор, обертка в транзакцию не нужна
		SkipDefaultTransaction: true,
		NowFunc:                func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return &Store{db: db}, nil
}

// Migrate выполняет миграцию схемы.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&domain.User{}, &domain.Post{}, &domain.Comment{}); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return domain.Persistence("ping", err)
	}
	return domain.Persistence("ping", sqlDB.PingContext(ctx))
}

// SQLDB отдает пул соединений под gorm.
func (s *Store) SQLDB() (*sql.DB, error) {
	return s.db.DB()
}

func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// invalidTextRepresentation - SQLSTATE для id, который не разбирается как uuid.
const invalidTextRepresentation = "22P02"

// mapError переводит ошибки gorm в ошибки предметной области.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case errors.As(err, &pgErr) && pgErr.Code == invalidTextRepresentation:
		// Записи с id не в формате uuid существовать не может
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	case errors.Is(err, gorm.ErrDuplicatedKey):
		return fmt.Errorf("%s: %w", op, domain.ErrEmailTaken)
	case errors.Is(err, gorm.ErrForeignKeyViolated):
		// Ссылка на несуществующего автора или пост
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	default:
		return domain.Persistence(op, err)
	}
}

// === User Methods ===

func (s *Store) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	u := *user
	u.ID = uuid.NewString()
	if err := s.db.WithContext(ctx).Create(&u).Error; err != nil {
		return nil, mapError("create user", err)
	}
	// GORM автоматически заполнит CreatedAt
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	var user domain.User
	if err := s.db.WithContext(ctx).First(&user, "id = ?", id).Error; err != nil {
		return nil, mapError("get user "+id, err)
	}
	return &user, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	var user domain.User
	if err := s.db.WithContext(ctx).First(&user, "email = ?", email).Error; err != nil {
		return nil, mapError("get user by email", err)
	}
	return &user, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	var users []*domain.User
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&users).Error
	return users, mapError("list users", err)
}

// === Post Methods ===

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	p := *post
	p.ID = uuid.NewString()
	if err := s.db.WithContext(ctx).Create(&p).Error; err != nil {
		return nil, mapError("create post", err)
	}
	return &p, nil
}

func (s *Store) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	var post domain.Post
	if err := s.db.WithContext(ctx).First(&post, "id = ?", id).Error; err != nil {
		// GORM возвращает gorm.ErrRecordNotFound, если запись не найдена
		return nil, mapError("get post "+id, err)
	}
	return &post, nil
}

func (s *Store) ListPosts(ctx context.Context) ([]*domain.Post, error) {
	var posts []*domain.Post
	err := s.db.WithContext(ctx).Order("created_at DESC").Find(&posts).Error
	return posts, mapError("list posts", err)
}

func (s *Store) UpdatePost(ctx context.Context, id string, patch domain.PostPatch) (*domain.Post, error) {
	updates := map[string]interface{}{"updated_at": time.Now().UTC()}
	if patch.Title != nil {
		updates["title"] = *patch.Title
	}
	if patch.Content != nil {
		updates["content"] = *patch.Content
	}

	// Один оператор UPDATE ... RETURNING вместо чтения и записи
	var post domain.Post
	res := s.db.WithContext(ctx).Model(&post).
		Clauses(clause.Returning{}).
		Where("id = ?", id).
		Updates(updates)
	if res.Error != nil {
		return nil, mapError("update post "+id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("update post %s: %w", id, domain.ErrNotFound)
	}
	return &post, nil
}

func (s *Store) DeletePost(ctx context.Context, id string) (*domain.Post, error) {
	// Комментарии удаляются каскадом по внешнему ключу
	var post domain.Post
	res := s.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("id = ?", id).
		Delete(&post)
	if res.Error != nil {
		return nil, mapError("delete post "+id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, fmt.Errorf("delete post %s: %w", id, domain.ErrNotFound)
	}
	return &post, nil
}

// === Comment Methods ===

func (s *Store) CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error) {
	c := *comment
	c.ID = uuid.NewString()
	if err := s.db.WithContext(ctx).Create(&c).Error; err != nil {
		return nil, mapError("create comment", err)
	}
	return &c, nil
}

func (s *Store) GetCommentByID(ctx context.Context, id string) (*domain.Comment, error) {
	var comment domain.Comment
	if err := s.db.WithContext(ctx).First(&comment, "id = ?", id).Error; err != nil {
		return nil, mapError("get comment "+id, err)
	}
	return &comment, nil
}

func (s *Store) ListComments(ctx context.Context) ([]*domain.Comment, error) {
	var comments []*domain.Comment
	err := s.db.WithContext(ctx).Order("created_at ASC").Find(&comments).Error
	return comments, mapError("list comments", err)
}

// === Dataloader Methods ===

// uuids оставляет только ключи в формате uuid; остальные не могут быть id
// в таблице.
func uuids(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, err := uuid.Parse(id); err == nil {
			out = append(out, id)
		}
	}
	return out
}

func (s *Store) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	ids = uuids(ids)
	if len(ids) == 0 {
		return map[string]*domain.User{}, nil
	}

	var users []*domain.User
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&users).Error; err != nil {
		return nil, mapError("get users by ids", err)
	}

	result := make(map[string]*domain.User, len(users))
	for _, u := range users {
		result[u.ID] = u
	}
	return result, nil
}

func (s *Store) GetPostsByIDs(ctx context.Context, ids []string) (map[string]*domain.Post, error) {
	ids = uuids(ids)
	if len(ids) == 0 {
		return map[string]*domain.Post{}, nil
	}

	var posts []*domain.Post
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&posts).Error; err != nil {
		return nil, mapError("get posts by ids", err)
	}

	result := make(map[string]*domain.Post, len(posts))
	for _, p := range posts {
		result[p.ID] = p
	}
	return result, nil
}

func (s *Store) GetPostsByAuthorIDs(ctx context.Context, authorIDs []string) (map[string][]*domain.Post, error) {
	authorIDs = uuids(authorIDs)
	if len(authorIDs) == 0 {
		return map[string][]*domain.Post{}, nil
	}

	var posts []*domain.Post
	// Загружаем посты всех авторов одним запросом
	err := s.db.WithContext(ctx).
		Where("author_id IN ?", authorIDs).
		Order("author_id, created_at DESC").
		Find(&posts).Error
	if err != nil {
		return nil, mapError("get posts by author ids", err)
	}

	// Группируем результаты в карту map[authorID][]*Post
	result := make(map[string][]*domain.Post, len(authorIDs))
	for _, p := range posts {
		result[p.AuthorID] = append(result[p.AuthorID], p)
	}
	return result, nil
}

func (s *Store) GetCommentsByAuthorIDs(ctx context.Context, authorIDs []string) (map[string][]*domain.Comment, error) {
	authorIDs = uuids(authorIDs)
	if len(authorIDs) == 0 {
		return map[string][]*domain.Comment{}, nil
	}

	var comments []*domain.Comment
	err := s.db.WithContext(ctx).
		Where("author_id IN ?", authorIDs).
		Order("author_id, created_at ASC").
		Find(&comments).Error
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
	postIDs = uuids(postIDs)
	if len(postIDs) == 0 {
		return map[string][]*domain.Comment{}, nil
	}

	var comments []*domain.Comment
	err := s.db.WithContext(ctx).
		Where("post_id IN ?", postIDs).
		Order("post_id, created_at ASC"). // Сортируем для правильной группировки и порядка
		Find(&comments).Error
	if err != nil {
		return nil, mapError("get comments by post ids", err)
	}

	result := make(map[string][]*domain.Comment, len(postIDs))
	for _, c := range comments {
		result[c.PostID] = append(result[c.PostID], c)
	}
	return result, nil
}
