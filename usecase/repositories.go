package usecase

import (
	"time"

	"post-mirror/domain/repository"
)

// Repositories groups the document repositories every use case works through.
type Repositories struct {
	Posts         repository.IPosts
	PlatformPosts repository.IPlatformPosts
	Triples       repository.ITriples
	Profiles      repository.IProfiles
	Users         repository.IUsers
	TaskMeta      repository.ITaskMeta
}

var nowMs = func() int64 { return time.Now().UnixMilli() }
