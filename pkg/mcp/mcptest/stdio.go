package mcptest

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ServeStdIO serves newline-delimited JSON-RPC from r and writes answers to w until r is
// exhausted. Every request is answered from its own goroutine, so a slow handler lets later
// responses overtake earlier ones. ServeStdIO returns after all answers were written.
func (p *Peer) ServeStdIO(r io.Reader, w io.Writer) error {
	var mu sync.Mutex
	writeLine := func(line []byte) error {
		mu.Lock()
		defer mu.Unlock()

		_, err := w.Write(append(line, '\n'))
		return err
	}

	for _, line := range p.Banner {
		if err := writeLine([]byte(line)); err != nil {
			return fmt.Errorf("failed to write banner: %w", err)
		}
	}

	var wg sync.WaitGroup
	defer wg.Wait()

	reader := bufio.NewReader(r)
	for {
		line, err := reader.ReadBytes('\n')
		if len(line) > 0 {
			var msg Message
			if jsonErr := json.Unmarshal(line, &msg); jsonErr != nil {
				p.logger.Debug("fake peer skipping malformed line", "err", jsonErr)
			} else {
				p.record(msg)
				wg.Add(1)
				go func() {
					defer wg.Done()
					p.answerLine(msg, writeLine)
				}()
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return fmt.Errorf("failed to read message: %w", err)
		}
	}
}

func (p *Peer) answerLine(msg Message, writeLine func([]byte) error) {
	res, ok := p.answer(msg)
	if !ok {
		return
	}

	bs, err := json.Marshal(res)
	if err != nil {
		p.logger.Error("failed to marshal response", "err", err)
		return
	}

	if p.Noise != "" {
		if err := writeLine([]byte(p.Noise)); err != nil {
			p.logger.Debug("fake peer failed to write noise", "err", err)
			return
		}
	}
	if err := writeLine(bs); err != nil {
		p.logger.Debug("fake peer failed to write response", "err", err)
	}
}
