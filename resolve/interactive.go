package resolve

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/agext/levenshtein"
)

// Interactive suspends the pipeline and asks the operator whether a cluster
// should be consolidated, and if so which member's name is canonical.
// Sessions run strictly one at a time: a mutex serializes Resolve so that
// concurrent dispatch never interleaves prompts on the shared streams.
// There is no timeout; cancelling means killing the process.
type Interactive struct {
	mu  sync.Mutex
	in  *bufio.Reader
	out io.Writer
}

// NewInteractive builds an operator prompt over the given streams. Pass nil
// for either to use stdin/stdout.
func NewInteractive(in io.Reader, out io.Writer) *Interactive {
	if in == nil {
		in = os.Stdin
	}
	if out == nil {
		out = os.Stdout
	}
	return &Interactive{in: bufio.NewReader(in), out: out}
}

func (p *Interactive) Resolve(_ context.Context, c Cluster) (Decision, error) {
	if len(c.Members) == 0 {
		return Decision{}, fmt.Errorf("empty cluster")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	fmt.Fprintf(p.out, "\nPossible duplicates for %q:\n", c.Attribution)
	for i, m := range c.Members {
		sim := levenshtein.Similarity(
			strings.ToLower(c.Members[0].Name),
			strings.ToLower(m.Name), nil)
		fmt.Fprintf(p.out, "  %d. %q  (%d plays, similarity %.2f)\n", i+1, m.Name, m.PlayCount, sim)
	}

	ok, err := p.askYesNo("Are these the same entity? [y/n]: ")
	if err != nil {
		return Decision{}, err
	}
	if !ok {
		return Decision{
			ShouldConsolidate: false,
			Confidence:        1.0,
			CanonicalName:     c.Members[0].Name,
			Reasoning:         "operator kept variants separate",
			Source:            "interactive",
		}, nil
	}

	idx, err := p.askIndex(len(c.Members))
	if err != nil {
		return Decision{}, err
	}

	return Decision{
		ShouldConsolidate: true,
		Confidence:        1.0,
		CanonicalName:     c.Members[idx].Name,
		Reasoning:         "operator approved consolidation",
		Source:            "interactive",
	}, nil
}

func (p *Interactive) askYesNo(prompt string) (bool, error) {
	for {
		fmt.Fprint(p.out, prompt)
		line, err := p.in.ReadString('\n')
		if err != nil {
			return false, fmt.Errorf("read answer: %w", err)
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		case "n", "no":
			return false, nil
		}
		fmt.Fprintln(p.out, "Please answer y or n.")
	}
}

func (p *Interactive) askIndex(n int) (int, error) {
	for {
		fmt.Fprintf(p.out, "Which name is canonical? [1-%d]: ", n)
		line, err := p.in.ReadString('\n')
		if err != nil {
			return 0, fmt.Errorf("read answer: %w", err)
		}
		i, err := strconv.Atoi(strings.TrimSpace(line))
		if err == nil && i >= 1 && i <= n {
			return i - 1, nil
		}
		fmt.Fprintf(p.out, "Enter a number between 1 and %d.\n", n)
	}
}
