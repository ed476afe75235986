package cluster

import (
	"bytes"
	"io"
	"log/slog"
	"testing"

	"github.com/hashicorp/raft"
)

func newTestFSM() *SequenceFSM {
	return NewSequenceFSM(slog.New(slog.NewTextHandler(bytes.NewBuffer(nil), nil)))
}

func applyCommand(t *testing.T, fsm *SequenceFSM, cmd Command) any {
	t.Helper()
	data, err := EncodeCommand(cmd)
	if err != nil {
		t.Fatalf("failed to encode command: %v", err)
	}
	return fsm.Apply(&raft.Log{Data: data})
}

func TestSequenceFSM_Apply_CommitSequence(t *testing.T) {
	fsm := newTestFSM()

	if fsm.Initialized() {
		t.Fatal("new FSM should not be initialized")
	}

	applyCommand(t, fsm, Command{
		Type: CommandInitialize,
		Data: InitializeCommand{State: ClusterState{TotalSegments: 5}},
	})
	if !fsm.Initialized() {
		t.Fatal("FSM should be initialized after InitializeCommand")
	}

	tests := []struct {
		name          string
		sequence      int
		wantPublishes uint64
		wantEpochs    uint64
	}{
		{"first commit", 1, 1, 0},
		{"second commit", 2, 2, 0},
		{"wrap around", 0, 3, 1},
		{"next cycle", 1, 4, 1},
		{"wrap again", 0, 5, 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if resp := applyCommand(t, fsm, Command{
				Type: CommandCommitSequence,
				Data: CommitSequenceCommand{Sequence: tt.sequence, Wrapped: tt.sequence == 0},
			}); resp != nil {
				t.Fatalf("Apply() = %v", resp)
			}

			state := fsm.GetState()
			if state.Sequence != tt.sequence {
				t.Errorf("Sequence = %d, want %d", state.Sequence, tt.sequence)
			}
			if state.Publishes != tt.wantPublishes {
				t.Errorf("Publishes = %d, want %d", state.Publishes, tt.wantPublishes)
			}
			if state.Epochs != tt.wantEpochs {
				t.Errorf("Epochs = %d, want %d", state.Epochs, tt.wantEpochs)
			}
		})
	}
}

func TestSequenceFSM_Apply_SingleTickCycle(t *testing.T) {
	fsm := newTestFSM()

	// With the window covering the whole catalog every publish wraps.
	for i := 1; i <= 3; i++ {
		if resp := applyCommand(t, fsm, Command{
			Type: CommandCommitSequence,
			Data: CommitSequenceCommand{Sequence: 0, Wrapped: true},
		}); resp != nil {
			t.Fatalf("Apply() = %v", resp)
		}

		if got := fsm.GetState().Epochs; got != uint64(i) {
			t.Errorf("after %d publishes Epochs = %d, want %d", i, got, i)
		}
	}
}

func TestSequenceFSM_Apply_Errors(t *testing.T) {
	fsm := newTestFSM()

	if resp := fsm.Apply(&raft.Log{Data: []byte("garbage")}); resp == nil {
		t.Error("expected error for undecodable command")
	}

	resp := applyCommand(t, fsm, Command{Type: 99, Data: CommitSequenceCommand{}})
	if _, ok := resp.(error); !ok {
		t.Errorf("expected error for unknown command type, got %v", resp)
	}

	resp = applyCommand(t, fsm, Command{
		Type: CommandCommitSequence,
		Data: CommitSequenceCommand{Sequence: -1},
	})
	if _, ok := resp.(error); !ok {
		t.Errorf("expected error for negative sequence, got %v", resp)
	}

	resp = applyCommand(t, fsm, Command{
		Type: CommandCommitSequence,
		Data: InitializeCommand{},
	})
	if _, ok := resp.(error); !ok {
		t.Errorf("expected error for mismatched command data, got %v", resp)
	}
}

func TestSequenceFSM_Snapshot_Restore(t *testing.T) {
	fsm := newTestFSM()

	applyCommand(t, fsm, Command{
		Type: CommandInitialize,
		Data: InitializeCommand{State: ClusterState{
			Sequence:      42,
			TotalSegments: 59,
			Publishes:     100,
			Epochs:        2,
		}},
	})

	snapshot, err := fsm.Snapshot()
	if err != nil {
		t.Fatalf("Snapshot() error = %v", err)
	}

	var buf bytes.Buffer
	sink := &mockSnapshotSink{buf: &buf}
	if err := snapshot.Persist(sink); err != nil {
		t.Fatalf("Persist() error = %v", err)
	}
	snapshot.Release()

	fsm2 := newTestFSM()
	if err := fsm2.Restore(io.NopCloser(&buf)); err != nil {
		t.Fatalf("Restore() error = %v", err)
	}

	state := fsm2.GetState()
	if state.Sequence != 42 {
		t.Errorf("Sequence = %d, want 42", state.Sequence)
	}
	if state.TotalSegments != 59 {
		t.Errorf("TotalSegments = %d, want 59", state.TotalSegments)
	}
	if state.Publishes != 100 || state.Epochs != 2 {
		t.Errorf("Publishes/Epochs = %d/%d, want 100/2", state.Publishes, state.Epochs)
	}
	if !fsm2.Initialized() {
		t.Error("restored FSM should be initialized")
	}
}

func TestSequenceFSM_GetState_Concurrent(t *testing.T) {
	fsm := newTestFSM()

	applyCommand(t, fsm, Command{
		Type: CommandInitialize,
		Data: InitializeCommand{State: ClusterState{TotalSegments: 100}},
	})

	commits := make([][]byte, 50)
	for i := range commits {
		data, err := EncodeCommand(Command{
			Type: CommandCommitSequence,
			Data: CommitSequenceCommand{Sequence: i + 1},
		})
		if err != nil {
			t.Fatalf("failed to encode command: %v", err)
		}
		commits[i] = data
	}

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_ = fsm.GetState()
			}
			done <- true
		}()
	}

	go func() {
		for _, data := range commits {
			fsm.Apply(&raft.Log{Data: data})
		}
		done <- true
	}()

	for i := 0; i < 11; i++ {
		<-done
	}

	state := fsm.GetState()
	if state.Sequence != 50 || state.Publishes != 50 {
		t.Errorf("Sequence/Publishes = %d/%d, want 50/50", state.Sequence, state.Publishes)
	}
}

// mockSnapshotSink implements raft.SnapshotSink for testing.
type mockSnapshotSink struct {
	buf *bytes.Buffer
}

func (m *mockSnapshotSink) Write(p []byte) (n int, err error) {
	return m.buf.Write(p)
}

func (m *mockSnapshotSink) Close() error {
	return nil
}

func (m *mockSnapshotSink) ID() string {
	return "mock"
}

func (m *mockSnapshotSink) Cancel() error {
	return nil
}
