package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/queuesync/queuesync/internal/jobs"
)

func (s *Server) handleProjectEvents(w http.ResponseWriter, r *http.Request) {
	project, ok := s.authorizedProject(w, r)
	if !ok {
		return
	}
	s.streamEvents(w, r, jobs.ProjectTopic(project.ID), project.ID)
}

func (s *Server) handleAdminEvents(w http.ResponseWriter, r *http.Request) {
	s.streamEvents(w, r, jobs.AdminTopic, 0)
}

func (s *Server) handleProjectSocket(w http.ResponseWriter, r *http.Request) {
	project, ok := s.authorizedProject(w, r)
	if !ok {
		return
	}
	s.app.Hub.ServeWs(w, r, jobs.ProjectTopic(project.ID), s.snapshotFunc(project.ID))
}

func (s *Server) handleAdminSocket(w http.ResponseWriter, r *http.Request) {
	s.app.Hub.ServeWs(w, r, jobs.AdminTopic, s.snapshotFunc(0))
}

func (s *Server) snapshotFunc(projectID int64) func() []byte {
	return func() []byte {
		data, err := s.jobs.Snapshot(projectID)
		if err != nil {
			log.Error().Err(err).Int64("project", projectID).Msg("could not build queue snapshot")
			return nil
		}
		return data
	}
}

// streamEvents serves topic as server-sent events. The stream opens with a
// queue_snapshot and then relays every published event until the client
// goes away or the hub drops it.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request, topic string, projectID int64) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		RespondWithError(w, http.StatusInternalServerError, "Streaming unsupported")
		return
	}

	client := s.app.Hub.Subscribe(topic)
	defer s.app.Hub.Unsubscribe(client)

	snapshot, err := s.jobs.Snapshot(projectID)
	if err != nil {
		RespondWithError(w, http.StatusInternalServerError, "Failed to load jobs")
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	if err := writeSSE(w, snapshot); err != nil {
		return
	}
	flusher.Flush()
	log.Debug().Str("client", client.ID()).Str("topic", topic).Msg("sse subscriber connected")

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case msg, ok := <-client.Messages():
			if !ok {
				return
			}
			if err := writeSSE(w, msg); err != nil {
				return
			}
			flusher.Flush()
		case <-keepAlive.C:
			if _, err := fmt.Fprint(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

func writeSSE(w http.ResponseWriter, data []byte) error {
	_, err := fmt.Fprintf(w, "data: %s\n\n", data)
	return err
}
