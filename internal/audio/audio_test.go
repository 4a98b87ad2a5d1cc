package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"testing"
)

func TestEncodeWAVConcatenatesChunks(t *testing.T) {
	chunks := [][]byte{{1, 0, 2, 0}, {3, 0}}
	wav, err := EncodeWAV(chunks, 16000)
	if err != nil {
		t.Fatalf("EncodeWAV err: %v", err)
	}

	if len(wav) != 44+6 {
		t.Fatalf("expected 50 bytes, got %d", len(wav))
	}
	if string(wav[0:4]) != "RIFF" || string(wav[8:12]) != "WAVE" || string(wav[36:40]) != "data" {
		t.Fatalf("unexpected header: %q", wav[:44])
	}
	if got := binary.LittleEndian.Uint32(wav[24:28]); got != 16000 {
		t.Fatalf("unexpected sample rate %d", got)
	}
	if got := binary.LittleEndian.Uint32(wav[40:44]); got != 6 {
		t.Fatalf("unexpected data size %d", got)
	}
	if !bytes.Equal(wav[44:], []byte{1, 0, 2, 0, 3, 0}) {
		t.Fatalf("payload not concatenated in order: %v", wav[44:])
	}
}

func TestEncodeWAVRejectsBadInput(t *testing.T) {
	if _, err := EncodeWAV([][]byte{{1}}, 16000); err == nil {
		t.Fatal("expected odd-length payload to fail")
	}
	if _, err := EncodeWAV(nil, 0); err == nil {
		t.Fatal("expected invalid sample rate to fail")
	}
}

func TestExecPlayerTrackLifecycle(t *testing.T) {
	p := NewExecPlayer("true")
	track, err := p.Load([]byte("ID3"))
	if err != nil {
		t.Fatalf("Load err: %v", err)
	}

	path := track.(*fileTrack).path
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected temp file: %v", err)
	}
	if err := track.Release(); err != nil {
		t.Fatalf("Release err: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected temp file removed, got %v", err)
	}
	if err := track.Release(); err != nil {
		t.Fatalf("second Release err: %v", err)
	}

	if err := p.Close(); err != nil {
		t.Fatalf("Close err: %v", err)
	}
	if _, err := p.Load([]byte("x")); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestExecPlayerRejectsEmpty(t *testing.T) {
	if _, err := NewExecPlayer("true").Load(nil); err == nil {
		t.Fatal("expected error for empty audio")
	}
}
