// Package domain defines the persistence models for users, threads, and
// generated contents. These types are mapped with GORM and form the core
// data layer of the content-generation backend.
package domain

import (
	"time"
)

// User is an account that owns threads. Passwords are stored as bcrypt
// hashes and never serialized.
type User struct {
	ID           string    `json:"id"         gorm:"type:char(36);primaryKey"`
	Name         string    `json:"name"       gorm:"type:varchar(255);not null"`
	Email        string    `json:"email"      gorm:"type:varchar(320);not null;uniqueIndex:ux_users_email"`
	PasswordHash string    `json:"-"          gorm:"type:varchar(255);not null"`
	Active       bool      `json:"active"     gorm:"not null;default:true"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Thread groups the contents a user generated for one topic.
//
// Fields:
//   - ID: stable UUID primary key (char(36)).
//   - UserID: owner; immutable after creation.
//   - Title: human-readable title, replaced by the AI-suggested one after
//     the first successful generation.
//   - Type: the kind of content generated in this thread.
//   - Status: active, archived or deleted. Deleted threads are hidden from
//     every read path.
//   - LastContent: newest content of the thread, filled by read paths only.
type Thread struct {
	ID        string       `json:"id"         gorm:"type:char(36);primaryKey"`
	UserID    string       `json:"user_id"    gorm:"type:varchar(64);not null;index:idx_user_threads,priority:1"`
	Title     string       `json:"title"      gorm:"type:varchar(255);not null;default:''"`
	Type      ContentType  `json:"type"       gorm:"type:varchar(32);not null"`
	Status    ThreadStatus `json:"status"     gorm:"type:varchar(16);not null;default:'active';index:idx_user_threads,priority:2"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`

	LastContent *Content  `json:"last_content,omitempty" gorm:"-"`
	Contents    []Content `json:"contents,omitempty"     gorm:"-"`
}

// TableName returns the database table name for Thread.
func (Thread) TableName() string { return "threads" }

// Content is a single prompt and its generated output. The ID doubles as
// the correlation id of the generation job.
type Content struct {
	ID               string        `json:"id"                gorm:"type:char(36);primaryKey"`
	ThreadID         string        `json:"thread_id"         gorm:"type:char(36);not null;index:idx_thread_contents,priority:1"`
	Prompt           string        `json:"prompt"            gorm:"type:text;not null"`
	GeneratedContent string        `json:"generated_content" gorm:"type:text;not null;default:''"`
	Status           ContentStatus `json:"status"            gorm:"type:varchar(16);not null;default:'pending';index"`
	StatusUpdatedAt  time.Time     `json:"status_updated_at"`
	Sentiment        Sentiment     `json:"sentiment"         gorm:"type:varchar(16);not null;default:'neutral'"`
	CreatedAt        time.Time     `json:"created_at"        gorm:"index:idx_thread_contents,priority:2"`
	UpdatedAt        time.Time     `json:"updated_at"`

	// Thread is the parent. Contents are cascade-deleted with it.
	Thread Thread `json:"-" gorm:"foreignKey:ThreadID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Content.
func (Content) TableName() string { return "contents" }

// Models lists every persisted model in migration order.
func Models() []any {
	return []any{&User{}, &Thread{}, &Content{}, &QueueJob{}, &Idempotency{}}
}
