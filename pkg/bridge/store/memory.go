package store

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store for tests and single-node runs.
type Memory struct {
	mu             sync.RWMutex
	usersByPhone   map[string]User
	calls          map[string]Call
	callIDBySID    map[string]string
	transcriptions map[string][]Transcription // keyed by call ID
	schedules      map[string]Schedule
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		usersByPhone:   make(map[string]User),
		calls:          make(map[string]Call),
		callIDBySID:    make(map[string]string),
		transcriptions: make(map[string][]Transcription),
		schedules:      make(map[string]Schedule),
	}
}

func (m *Memory) EnsureUser(_ context.Context, phoneNumber string) (User, error) {
	phoneNumber = strings.TrimSpace(phoneNumber)

	m.mu.Lock()
	defer m.mu.Unlock()

	if u, ok := m.usersByPhone[phoneNumber]; ok {
		return u, nil
	}
	now := time.Now().UTC()
	u := User{
		ID:          uuid.NewString(),
		PhoneNumber: phoneNumber,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.usersByPhone[phoneNumber] = u
	return u, nil
}

func (m *Memory) CreateCall(_ context.Context, userID, callType string) (Call, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now().UTC()
	c := Call{
		ID:        uuid.NewString(),
		UserID:    userID,
		CallType:  callType,
		Status:    CallStatusInitiated,
		StartedAt: now,
		CreatedAt: now,
	}
	m.calls[c.ID] = c
	return c, nil
}

func (m *Memory) SetCallDialSID(_ context.Context, callID, sid string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	if c.CallSID != "" {
		delete(m.callIDBySID, c.CallSID)
	}
	c.CallSID = sid
	m.calls[callID] = c
	m.callIDBySID[sid] = callID
	return nil
}

func (m *Memory) SetCallStatus(_ context.Context, callID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	c.Status = status
	m.calls[callID] = c
	return nil
}

func (m *Memory) GetCall(_ context.Context, callID string) (Call, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	c, ok := m.calls[callID]
	if !ok {
		return Call{}, ErrNotFound
	}
	return c, nil
}

func (m *Memory) GetCallBySID(_ context.Context, sid string) (Call, error) {
	if sid == "" {
		return Call{}, ErrNotFound
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	id, ok := m.callIDBySID[sid]
	if !ok {
		return Call{}, ErrNotFound
	}
	return m.calls[id], nil
}

func (m *Memory) FinishCall(_ context.Context, callID, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, ok := m.calls[callID]
	if !ok {
		return ErrNotFound
	}
	now := time.Now().UTC()
	duration := int(now.Sub(c.StartedAt).Seconds())
	c.Status = status
	c.EndedAt = &now
	c.DurationSeconds = &duration
	m.calls[callID] = c
	return nil
}

func (m *Memory) SaveTranscription(_ context.Context, callID, content string) (Transcription, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.calls[callID]; !ok {
		return Transcription{}, ErrNotFound
	}
	t := Transcription{
		ID:        uuid.NewString(),
		CallID:    callID,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}
	m.transcriptions[callID] = append(m.transcriptions[callID], t)
	return t, nil
}

func (m *Memory) GetTranscriptionByCall(_ context.Context, callID string) (Transcription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ts := m.transcriptions[callID]
	if len(ts) == 0 {
		return Transcription{}, ErrNotFound
	}
	return ts[len(ts)-1], nil
}

func (m *Memory) CreateSchedule(_ context.Context, s Schedule) (Schedule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s.ID = uuid.NewString()
	s.CreatedAt = time.Now().UTC()
	m.schedules[s.ID] = s
	return s, nil
}

func (m *Memory) ActiveSchedules(_ context.Context) ([]Schedule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Schedule
	for _, s := range m.schedules {
		if s.Active {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *Memory) Close() {}
