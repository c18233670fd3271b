package domain

import "time"

// User представляет зарегистрированного пользователя.
// PasswordHash никогда не отдается наружу: в GraphQL-схеме такого поля нет.
type User struct {
	ID           string     `json:"id" db:"id" gorm:"type:uuid;primaryKey"`
	Email        string     `json:"email" db:"email" gorm:"type:varchar(320);uniqueIndex;not null"`
	PasswordHash string     `json:"-" db:"password_hash" gorm:"type:varchar(255);not null"`
	CreatedAt    time.Time  `json:"createdAt" db:"created_at" gorm:"not null"`
	Posts        []*Post    `json:"-" db:"-" gorm:"foreignKey:AuthorID"` // gorm only
	Comments     []*Comment `json:"-" db:"-" gorm:"foreignKey:AuthorID"` // gorm only
}

// Post представляет пост в блоге. Автор задается при создании и больше не меняется.
type Post struct {
	ID        string     `json:"id" db:"id" gorm:"type:uuid;primaryKey"`
	Title     string     `json:"title" db:"title" gorm:"type:varchar(255);not null"`
	Content   string     `json:"content" db:"content" gorm:"type:text;not null"`
	AuthorID  string     `json:"authorId" db:"author_id" gorm:"type:uuid;not null;index"`
	CreatedAt time.Time  `json:"createdAt" db:"created_at" gorm:"not null"`
	UpdatedAt time.Time  `json:"updatedAt" db:"updated_at" gorm:"not null"`
	Comments  []*Comment `json:"-" db:"-" gorm:"foreignKey:PostID;constraint:OnDelete:CASCADE"` // gorm only
}

// Comment представляет комментарий к посту.
type Comment struct {
	ID        string    `json:"id" db:"id" gorm:"type:uuid;primaryKey"`
	PostID    string    `json:"postId" db:"post_id" gorm:"type:uuid;not null;index"`
	AuthorID  string    `json:"authorId" db:"author_id" gorm:"type:uuid;not null;index"`
	Content   string    `json:"content" db:"content" gorm:"type:text;not null"`
	CreatedAt time.Time `json:"createdAt" db:"created_at" gorm:"not null"`
}

// PostPatch - частичное обновление поста. nil означает "не менять поле".
type PostPatch struct {
	Title   *string
	Content *string
}

// Empty сообщает, что патч ничего не меняет.
func (p PostPatch) Empty() bool {
	return p.Title == nil && p.Content == nil
}
