package lib

import (
	"testing"
)

func TestIsGreater(t *testing.T) {
	// Test cases comparing in both directions, with and without wraparound
	testCases := []struct {
		seq1     uint32
		seq2     uint32
		expected bool
	}{
		{seq1: 10, seq2: 5, expected: true},  // Direct comparison
		{seq1: 5, seq2: 10, expected: false}, // Direct comparison
		{seq1: 5, seq2: 4294967295, expected: true},           // Wrap-around case
		{seq1: 4294967295, seq2: 5, expected: false},          // Wrap-around case
		{seq1: 2147483647, seq2: 2147483646, expected: true},  // Close to wrap-around boundary
		{seq1: 2147483646, seq2: 2147483647, expected: false}, // Close to wrap-around boundary
		{seq1: 0, seq2: 4294967295, expected: true},           // Full wrap-around
		{seq1: 4294967295, seq2: 0, expected: false},          // Full wrap-around
	}

	for _, tc := range testCases {
		result := isGreater(tc.seq1, tc.seq2)
		if result != tc.expected {
			t.Errorf("For (%d, %d), expected %t, but got %t", tc.seq1, tc.seq2, tc.expected, result)
		}
	}
}

func TestSeqIncrementBy(t *testing.T) {
	testCases := []struct {
		seq      uint32
		inc      uint32
		expected uint32
	}{
		{seq: 0, inc: 1024, expected: 1024},
		{seq: 4294967295, inc: 1, expected: 0}, // wrap
		{seq: 4294966272, inc: 2048, expected: 1024},
	}

	for _, tc := range testCases {
		result := SeqIncrementBy(tc.seq, tc.inc)
		if result != tc.expected {
			t.Errorf("For (%d + %d), expected %d, but got %d", tc.seq, tc.inc, tc.expected, result)
		}
	}
}

func TestSeqDelta(t *testing.T) {
	testCases := []struct {
		seq1     uint32
		seq2     uint32
		expected uint32
	}{
		{seq1: 2048, seq2: 1024, expected: 1024},
		{seq1: 1024, seq2: 4294966272, expected: 2048}, // across the wrap
		{seq1: 7, seq2: 7, expected: 0},
	}

	for _, tc := range testCases {
		result := seqDelta(tc.seq1, tc.seq2)
		if result != tc.expected {
			t.Errorf("For (%d - %d), expected %d, but got %d", tc.seq1, tc.seq2, tc.expected, result)
		}
	}
}
