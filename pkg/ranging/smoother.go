package ranging

import "sync"

// Smoother keeps a moving average over the last N distances.
type Smoother struct {
	mu     sync.Mutex
	window []float64
	next   int
	filled bool
}

// NewSmoother creates a smoother over n samples. n < 1 is treated as 1.
func NewSmoother(n int) *Smoother {
	if n < 1 {
		n = 1
	}
	return &Smoother{window: make([]float64, n)}
}

// Add records a sample and returns the current average.
func (s *Smoother) Add(d float64) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.window[s.next] = d
	s.next++
	if s.next == len(s.window) {
		s.next = 0
		s.filled = true
	}
	return s.avgLocked()
}

// Value returns the current average, or 0 with no samples.
func (s *Smoother) Value() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.avgLocked()
}

// Count returns the number of samples in the window.
func (s *Smoother) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.filled {
		return len(s.window)
	}
	return s.next
}

// Reset discards all samples.
func (s *Smoother) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.next = 0
	s.filled = false
}

func (s *Smoother) avgLocked() float64 {
	n := s.next
	if s.filled {
		n = len(s.window)
	}
	if n == 0 {
		return 0
	}
	var sum float64
	for _, v := range s.window[:n] {
		sum += v
	}
	return sum / float64(n)
}
