package inmemory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/UkralStul/graphql-blog-service/internal/domain"
	"github.com/google/uuid"
)

// Store реализует интерфейс Storage в памяти.
// Наружу всегда отдаются копии записей, чтобы UpdatePost не гонялся с читателями.
type Store struct {
	mu             sync.RWMutex
	users          map[string]domain.User
	usersByEmail   map[string]string // map[email]userID
	posts          map[string]domain.Post
	comments       map[string]domain.Comment
	postsByAuthor  map[string][]string // map[authorID][]postID
	commentsByPost map[string][]string // map[postID][]commentID
	commentsByUser map[string][]string // map[authorID][]commentID

	now  func() time.Time
	last time.Time
}

// New создает новый экземпляр in-memory хранилища.
func New() *Store {
	return &Store{
		users:          make(map[string]domain.User),
		usersByEmail:   make(map[string]string),
		posts:          make(map[string]domain.Post),
		comments:       make(map[string]domain.Comment),
		postsByAuthor:  make(map[string][]string),
		commentsByPost: make(map[string][]string),
		commentsByUser: make(map[string][]string),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// tick возвращает строго возрастающее время, чтобы порядок записей не зависел
// от разрешения часов. Вызывать под mu.Lock.
func (s *Store) tick() time.Time {
	t := s.now()
	if !t.After(s.last) {
		t = s.last.Add(time.Nanosecond)
	}
	s.last = t
	return t
}

func (s *Store) Ping(ctx context.Context) error { return nil }

func (s *Store) Close() error { return nil }

// === User Methods ===

func (s *Store) CreateUser(ctx context.Context, user *domain.User) (*domain.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.usersByEmail[user.Email]; taken {
		return nil, fmt.Errorf("user %s: %w", user.Email, domain.ErrEmailTaken)
	}

	u := *user
	u.ID = uuid.NewString()
	u.CreatedAt = s.tick()
	s.users[u.ID] = u
	s.usersByEmail[u.Email] = u.ID
	return &u, nil
}

func (s *Store) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("user with id %s: %w", id, domain.ErrNotFound)
	}
	return &u, nil
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	id, ok := s.usersByEmail[email]
	if !ok {
		return nil, fmt.Errorf("user with email %s: %w", email, domain.ErrNotFound)
	}
	u := s.users[id]
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.User, 0, len(s.users))
	for _, u := range s.users {
		u := u
		out = append(out, &u)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// === Post Methods ===

func (s *Store) CreatePost(ctx context.Context, post *domain.Post) (*domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Автор должен существовать - то же делает внешний ключ в SQL-хранилищах
	if _, ok := s.users[post.AuthorID]; !ok {
		return nil, fmt.Errorf("author %s: %w", post.AuthorID, domain.ErrNotFound)
	}

	p := *post
	p.ID = uuid.NewString()
	p.CreatedAt = s.tick()
	p.UpdatedAt = p.CreatedAt
	p.Comments = nil
	s.posts[p.ID] = p
	s.postsByAuthor[p.AuthorID] = append(s.postsByAuthor[p.AuthorID], p.ID)
	return &p, nil
}

func (s *Store) GetPostByID(ctx context.Context, id string) (*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, fmt.Errorf("post with id %s: %w", id, domain.ErrNotFound)
	}
	return &p, nil
}

func (s *Store) ListPosts(ctx context.Context) ([]*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Post, 0, len(s.posts))
	for _, p := range s.posts {
		p := p
		out = append(out, &p)
	}
	sortPosts(out)
	return out, nil
}

func (s *Store) UpdatePost(ctx context.Context, id string, patch domain.PostPatch) (*domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, fmt.Errorf("post with id %s: %w", id, domain.ErrNotFound)
	}
	if patch.Title != nil {
		p.Title = *patch.Title
	}
	if patch.Content != nil {
		p.Content = *patch.Content
	}
	p.UpdatedAt = s.tick()
	s.posts[id] = p
	return &p, nil
}

func (s *Store) DeletePost(ctx context.Context, id string) (*domain.Post, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.posts[id]
	if !ok {
		return nil, fmt.Errorf("post with id %s: %w", id, domain.ErrNotFound)
	}

	// Каскадно удаляем комментарии поста
	for _, cID := range s.commentsByPost[id] {
		if c, ok := s.comments[cID]; ok {
			s.commentsByUser[c.AuthorID] = without(s.commentsByUser[c.AuthorID], cID)
			delete(s.comments, cID)
		}
	}
	delete(s.commentsByPost, id)

	s.postsByAuthor[p.AuthorID] = without(s.postsByAuthor[p.AuthorID], id)
	delete(s.posts, id)
	return &p, nil
}

// === Comment Methods ===

func (s *Store) CreateComment(ctx context.Context, comment *domain.Comment) (*domain.Comment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.posts[comment.PostID]; !ok {
		return nil, fmt.Errorf("post with id %s: %w", comment.PostID, domain.ErrNotFound)
	}
	if _, ok := s.users[comment.AuthorID]; !ok {
		return nil, fmt.Errorf("author %s: %w", comment.AuthorID, domain.ErrNotFound)
	}

	c := *comment
	c.ID = uuid.NewString()
	c.CreatedAt = s.tick()
	s.comments[c.ID] = c

	// Обновление индексов
	s.commentsByPost[c.PostID] = append(s.commentsByPost[c.PostID], c.ID)
	s.commentsByUser[c.AuthorID] = append(s.commentsByUser[c.AuthorID], c.ID)
	return &c, nil
}

func (s *Store) GetCommentByID(ctx context.Context, id string) (*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.comments[id]
	if !ok {
		return nil, fmt.Errorf("comment with id %s: %w", id, domain.ErrNotFound)
	}
	return &c, nil
}

func (s *Store) ListComments(ctx context.Context) ([]*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.Comment, 0, len(s.comments))
	for _, c := range s.comments {
		c := c
		out = append(out, &c)
	}
	sortComments(out)
	return out, nil
}

// === Dataloader Methods ===

func (s *Store) GetUsersByIDs(ctx context.Context, ids []string) (map[string]*domain.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*domain.User, len(ids))
	for _, id := range ids {
		if u, ok := s.users[id]; ok {
			u := u
			result[id] = &u
		}
	}
	return result, nil
}

func (s *Store) GetPostsByIDs(ctx context.Context, ids []string) (map[string]*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*domain.Post, len(ids))
	for _, id := range ids {
		if p, ok := s.posts[id]; ok {
			p := p
			result[id] = &p
		}
	}
	return result, nil
}

func (s *Store) GetPostsByAuthorIDs(ctx context.Context, authorIDs []string) (map[string][]*domain.Post, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string][]*domain.Post, len(authorIDs))
	for _, aID := range authorIDs {
		postIDs := s.postsByAuthor[aID]
		posts := make([]*domain.Post, 0, len(postIDs))
		for _, pID := range postIDs {
			if p, ok := s.posts[pID]; ok {
				p := p
				posts = append(posts, &p)
			}
		}
		sortPosts(posts)
		result[aID] = posts
	}
	return result, nil
}

func (s *Store) GetCommentsByAuthorIDs(ctx context.Context, authorIDs []string) (map[string][]*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectComments(authorIDs, s.commentsByUser), nil
}

func (s *Store) GetCommentsByPostIDs(ctx context.Context, postIDs []string) (map[string][]*domain.Comment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.collectComments(postIDs, s.commentsByPost), nil
}

// collectComments группирует комментарии по ключам индекса. Вызывать под mu.
func (s *Store) collectComments(keys []string, index map[string][]string) map[string][]*domain.Comment {
	result := make(map[string][]*domain.Comment, len(keys))
	for _, key := range keys {
		ids := index[key]
		comments := make([]*domain.Comment, 0, len(ids))
		for _, id := range ids {
			if c, ok := s.comments[id]; ok {
				c := c
				comments = append(comments, &c)
			}
		}
		// Важно: Dataloader'у нужны отсортированные данные для консистентности
		sortComments(comments)
		result[key] = comments
	}
	return result
}

// Посты - от новых к старым, комментарии - от старых к новым.
func sortPosts(posts []*domain.Post) {
	sort.SliceStable(posts, func(i, j int) bool {
		return posts[i].CreatedAt.After(posts[j].CreatedAt)
	})
}

func sortComments(comments []*domain.Comment) {
	sort.SliceStable(comments, func(i, j int) bool {
		return comments[i].CreatedAt.Before(comments[j].CreatedAt)
	})
}

func without(ids []string, id string) []string {
	out := ids[:0]
	for _, v := range ids {
		if v != id {
			out = append(out, v)
		}
	}
	return out
}
