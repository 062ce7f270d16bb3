// Copyright SAP SE
// SPDX-License-Identifier: Apache-2.0

package mqtt

import (
	"encoding/json"
	"sync"
)

// A message captured by the mock client.
type Message struct {
	Topic   string
	Payload []byte
}

// Mock mqtt client that records published messages.
type MockClient struct {
	mu        sync.Mutex
	Published []Message
	// If set, Publish fails with this error.
	PublishErr error
}

func (m *MockClient) Publish(topic string, obj any) error {
	if m.PublishErr != nil {
		return m.PublishErr
	}
	data, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Published = append(m.Published, Message{Topic: topic, Payload: data})
	return nil
}

// Messages returns a copy of everything published so far.
func (m *MockClient) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.Published...)
}

func (m *MockClient) Connect() error {
	return nil
}

func (m *MockClient) Disconnect() {}
