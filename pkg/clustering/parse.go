package clustering

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/cuemby/pilot/pkg/types"
)

// Parse builds a strategy from a clustering spec:
//
//	hc-[vnone|vposterior-]<tasksPerCluster>-<nodesPerCluster>
//	dfjs-[vnone|vposterior-]<secondsPerCluster>-<nodesPerCluster>
//	hrb-[vnone|vposterior-]<tasksPerCluster>-<nodesPerCluster>
//	one_job-<nodes>
//	one_job_per_task
//	vc
//	zhang[:overlap|:nooverlap][:plimit|:pnolimit]
//
// A node count of 0 is picked from wait-time predictions. A leading
// "static:" on the non-zhang specs is accepted and ignored. The oracle is
// required by zhang and by node counts of 0.
func Parse(spec string, oracle Predictor) (Strategy, error) {
	spec = strings.TrimSpace(spec)
	if strings.HasPrefix(spec, "zhang") {
		return parseZhang(spec, oracle)
	}

	static := strings.TrimPrefix(spec, "static:")
	family, _, _ := strings.Cut(static, "-")
	switch family {
	case "hc", "dfjs", "hrb":
		return parseHorizontal(static, oracle)
	case "one_job":
		return parseOneJob(static, oracle)
	case "one_job_per_task":
		if static != family {
			return nil, fmt.Errorf("%w: one_job_per_task takes no parameters, got %q", types.ErrConfiguration, spec)
		}
		return OneJobPerTask{}, nil
	case "vc":
		if static != family {
			return nil, fmt.Errorf("%w: vc takes no parameters, got %q", types.ErrConfiguration, spec)
		}
		return NewVertical(), nil
	default:
		return nil, fmt.Errorf("%w: unknown clustering spec %q", types.ErrConfiguration, spec)
	}
}

func parseHorizontal(spec string, oracle Predictor) (Strategy, error) {
	tokens := strings.Split(spec, "-")
	family := tokens[0]

	vertical := "vnone"
	switch len(tokens) {
	case 3:
	case 4:
		vertical = tokens[1]
		tokens = append(tokens[:1], tokens[2:]...)
	default:
		return nil, fmt.Errorf("%w: invalid %s spec %q: expected %s-<size>-<nodes>", types.ErrConfiguration, family, spec, family)
	}

	size, err := positive(tokens[1])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid cluster size in %q: %v", types.ErrConfiguration, spec, err)
	}
	nodes, err := nonNegative(tokens[2])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid nodes per cluster in %q: %v", types.ErrConfiguration, spec, err)
	}

	var inner levelPartitioner
	switch family {
	case "hc":
		inner, err = NewFixedSize(size, nodes, oracle)
	case "dfjs":
		inner, err = NewRuntimeBounded(size, nodes, oracle)
	case "hrb":
		inner, err = NewBalanced(size, nodes, oracle)
	}
	if err != nil {
		return nil, err
	}

	switch vertical {
	case "vnone":
		return inner, nil
	case "vposterior":
		return NewPosteriorMerge(inner, nil), nil
	default:
		return nil, fmt.Errorf("%w: unsupported vertical clustering %q in %q", types.ErrConfiguration, vertical, spec)
	}
}

func parseOneJob(spec string, oracle Predictor) (Strategy, error) {
	tokens := strings.Split(spec, "-")
	if len(tokens) != 2 {
		return nil, fmt.Errorf("%w: invalid one_job spec %q: expected one_job-<nodes>", types.ErrConfiguration, spec)
	}
	nodes, err := nonNegative(tokens[1])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid node count in %q: %v", types.ErrConfiguration, spec, err)
	}
	return NewOneJob(nodes, oracle)
}

func parseZhang(spec string, oracle Predictor) (Strategy, error) {
	tokens := strings.Split(spec, ":")
	if tokens[0] != "zhang" || len(tokens) > 3 {
		return nil, fmt.Errorf("%w: invalid zhang spec %q", types.ErrConfiguration, spec)
	}
	if oracle == nil {
		return nil, fmt.Errorf("%w: zhang clustering requires a wait-time oracle", types.ErrConfiguration)
	}

	var overlap, plimit *bool
	set := func(dst **bool, v bool, tok string) error {
		if *dst != nil {
			return fmt.Errorf("%w: conflicting option %q in %q", types.ErrConfiguration, tok, spec)
		}
		*dst = &v
		return nil
	}
	for _, tok := range tokens[1:] {
		var err error
		switch tok {
		case "overlap":
			err = set(&overlap, true, tok)
		case "nooverlap":
			err = set(&overlap, false, tok)
		case "plimit":
			err = set(&plimit, true, tok)
		case "pnolimit":
			err = set(&plimit, false, tok)
		default:
			err = fmt.Errorf("%w: unknown option %q in %q", types.ErrConfiguration, tok, spec)
		}
		if err != nil {
			return nil, err
		}
	}

	return NewRatioSearch(overlap != nil && *overlap, plimit != nil && *plimit, oracle), nil
}

func positive(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 1 {
		return 0, fmt.Errorf("must be at least 1, got %d", n)
	}
	return n, nil
}

func nonNegative(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, err
	}
	if n < 0 {
		return 0, fmt.Errorf("must not be negative, got %d", n)
	}
	return n, nil
}
