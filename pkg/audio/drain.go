package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to prevent goroutine leaks when abandoning a streaming channel
// mid-way (e.g., the audio stream of an interrupted synthesis).
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
