package pagerank

import (
	multierror "github.com/hashicorp/go-multierror"
	"github.com/sirupsen/logrus"
	"golang.org/x/xerrors"
)

// Config encapsulates the required parameters for creating a new PageRank
// calculator instance.
type Config struct {
	// DampingFactor is the probability that a random surfer will click on
	// one of the outgoing links on the page they are currently visiting
	// instead of visiting (teleporting to) a random page in the graph.
	//
	// If not specified, a default value of 0.85 will be used instead.
	DampingFactor float64

	// At each superstep, an aggregator tracks the sum of absolute
	// differences of the PageRank scores for each vertex in the graph. The
	// algorithm keeps executing until that sum drops below Epsilon.
	//
	// If not specified, a default value of 0.00001 will be used instead.
	Epsilon float64

	// MaxSupersteps caps the number of supersteps the algorithm may
	// execute before it is forced to stop, converged or not.
	//
	// If not specified, a default value of 50 will be used instead.
	MaxSupersteps int

	// Shards is the number of partitions the graph is split into. If not
	// specified, a default value of 8 will be used instead.
	Shards int

	// GraphWorkers is the number of workers the shards are distributed
	// over. If not specified, a default value of 1 will be used instead.
	GraphWorkers int

	// ComputeWorkers is the number of goroutines each worker uses for
	// executing vertex hooks. If not specified, a default value of 1 will
	// be used instead.
	ComputeWorkers int

	// Logger is the logger for engine events. A null logger is used if
	// unspecified.
	Logger *logrus.Entry
}

// validate checks whether the PageRank calculator configuration is valid and
// sets the default values where required.
func (c *Config) validate() error {
	var err error
	if c.DampingFactor < 0 || c.DampingFactor > 1.0 {
		err = multierror.Append(err, xerrors.New("DampingFactor must be in the range (0, 1]"))
	} else if c.DampingFactor == 0 {
		c.DampingFactor = 0.85
	}

	if c.Epsilon < 0 || c.Epsilon >= 1.0 {
		err = multierror.Append(err, xerrors.New("Epsilon must be in the range (0, 1)"))
	} else if c.Epsilon == 0 {
		c.Epsilon = 0.00001
	}

	if c.MaxSupersteps < 0 {
		err = multierror.Append(err, xerrors.New("MaxSupersteps cannot be negative"))
	} else if c.MaxSupersteps == 0 {
		c.MaxSupersteps = 50
	}

	if c.Shards < 0 {
		err = multierror.Append(err, xerrors.New("Shards cannot be negative"))
	} else if c.Shards == 0 {
		c.Shards = 8
	}

	if c.GraphWorkers < 0 {
		err = multierror.Append(err, xerrors.New("GraphWorkers cannot be negative"))
	} else if c.GraphWorkers == 0 {
		c.GraphWorkers = 1
	}
	if c.GraphWorkers > c.Shards {
		err = multierror.Append(err, xerrors.New("GraphWorkers cannot exceed Shards"))
	}

	if c.ComputeWorkers <= 0 {
		c.ComputeWorkers = 1
	}

	return err
}
