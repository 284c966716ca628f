package pipeline

// Stages is the set of stages and the test dataset picked by the command-line
// tokens. Token order does not matter; stages always run swarm, train, test.
type Stages struct {
	Swarm bool
	Train bool
	Test  bool
	Good  bool
	Bad   bool
}

// ParseTokens scans tokens for swarm, train, test, good and bad. Other tokens
// are ignored.
func ParseTokens(tokens []string) Stages {
	var s Stages
	for _, tok := range tokens {
		switch tok {
		case "swarm":
			s.Swarm = true
		case "train":
			s.Train = true
		case "test":
			s.Test = true
		case "good":
			s.Good = true
		case "bad":
			s.Bad = true
		}
	}
	return s
}

func (s Stages) Any() bool {
	return s.Swarm || s.Train || s.Test
}

// HasDataset reports whether good or bad picked a test dataset.
func (s Stages) HasDataset() bool {
	return s.Good || s.Bad
}
