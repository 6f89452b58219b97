package store

import (
	"time"

	"github.com/queuesync/queuesync/internal/models"
)

// CreateProject registers a project owned by ownerID.
func (s *Store) CreateProject(ownerID int64, name string) (*models.Project, error) {
	now := time.Now().UTC()
	res, err := s.db.Exec("INSERT INTO projects (owner_id, name, created_at) VALUES (?, ?, ?)", ownerID, name, now)
	if err != nil {
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &models.Project{ID: id, OwnerID: ownerID, Name: name, CreatedAt: now}, nil
}

// GetProject retrieves a project by id.
func (s *Store) GetProject(id int64) (*models.Project, error) {
	var p models.Project
	err := s.db.QueryRow("SELECT id, owner_id, name, created_at FROM projects WHERE id = ?", id).
		Scan(&p.ID, &p.OwnerID, &p.Name, &p.CreatedAt)
	if err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}
