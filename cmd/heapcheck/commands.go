// ABOUTME: Actions of the heapcheck subcommands
// ABOUTME: Each action loads the image, builds a verifier and prints its findings

package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirkon/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"
	"golang.org/x/exp/slices"

	"github.com/prateek/heapcheck/bridge"
	"github.com/prateek/heapcheck/graph"
	"github.com/prateek/heapcheck/heap"
	"github.com/prateek/heapcheck/heapdump"
	"github.com/prateek/heapcheck/verify"
)

// exitViolations is the exit status when a pass found violations
const exitViolations = 1

var checkNames = []string{"consistency", "mod-union", "whole-heap", "nursery", "clean", "xdomain", "major-refs", "marked"}

var allChecks = strings.Join(checkNames, ",")

func parseChecks(list string) ([]string, error) {
	var checks []string
	for _, name := range strings.Split(list, ",") {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if !slices.Contains(checkNames, name) {
			return nil, errors.Newf("unknown check %q", name).Str("known", allChecks)
		}
		if !slices.Contains(checks, name) {
			checks = append(checks, name)
		}
	}
	if len(checks) == 0 {
		return nil, errors.New("no checks selected")
	}
	return checks, nil
}

func loadImage(c *cli.Context) (*heapdump.Image, error) {
	if c.NArg() != 1 {
		return nil, errors.New("expected exactly one IMAGE argument")
	}
	path := c.Args().First()
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open image")
	}
	defer f.Close()

	img, err := heapdump.Open(f)
	if err != nil {
		return nil, errors.Wrap(err, "load image").Str("path", path)
	}
	logrus.WithFields(logrus.Fields{"path": path, "objects": len(img.Objects)}).Debug("image loaded")
	return img, nil
}

func newVerifier(img *heapdump.Image, opts ...verify.Option) *verify.Verifier {
	opts = append([]verify.Option{
		verify.WithLogger(logrus.StandardLogger()),
		verify.WithMaxSmallObjectSize(img.Heap.Config().MaxSmallObjectSize),
	}, opts...)
	if img.Allow != nil {
		opts = append(opts, verify.WithAllowList(img.Allow))
	}
	return verify.New(img.Heap.Collaborators(), opts...)
}

func runVerify(c *cli.Context) error {
	checks, err := parseChecks(c.String("checks"))
	if err != nil {
		return err
	}
	img, err := loadImage(c)
	if err != nil {
		return err
	}

	var opts []verify.Option
	var collector *verify.Collector
	var registry *prometheus.Registry
	metricsFile := c.String("metrics-file")
	if c.Bool("events") || metricsFile != "" {
		collector = &verify.Collector{}
		sinks := verify.Sinks{collector}
		if metricsFile != "" {
			registry = prometheus.NewRegistry()
			metrics, err := verify.NewMetricsSink(registry)
			if err != nil {
				return err
			}
			sinks = append(sinks, metrics)
		}
		opts = append(opts, verify.WithSink(sinks))
	} else {
		// a failed pass is returned to the loop below, which stops
		opts = append(opts, verify.WithAbort(func(*verify.Failure) {}))
	}
	v := newVerifier(img, opts...)

	leniency := verify.StrictRemsets
	if c.Bool("allow-missing-pinned") {
		leniency = verify.AllowMissingPinned
	}
	passes := map[string]func() error{
		"consistency": v.CheckConsistency,
		"mod-union":   v.CheckModUnionConsistency,
		"whole-heap":  func() error { return v.CheckWholeHeap(leniency) },
		"nursery":     func() error { return v.VerifyNursery(c.Bool("dump-nursery")) },
		"clean":       v.CheckNurseryIsClean,
		"xdomain":     v.CheckCrossDomainRefs,
		"major-refs":  v.CheckMajorRefs,
		"marked":      func() error { return v.CheckHeapMarked(c.Bool("nursery-must-be-pinned")) },
	}

	out := c.App.Writer
	recorded := 0
	for _, name := range checks {
		if err := passes[name](); err != nil {
			var f *verify.Failure
			if !errors.As(err, &f) {
				return err
			}
			printViolations(c, img, f.Violations)
			return cli.Exit(fmt.Sprintf("%s: %d violation(s)", name, len(f.Violations)), exitViolations)
		}
		if collector != nil {
			n := len(collector.Violations())
			if n > recorded {
				fmt.Fprintf(out, "%s: %d violation(s) recorded\n", name, n-recorded)
				recorded = n
				continue
			}
		}
		fmt.Fprintf(out, "%s: ok\n", name)
	}

	if registry != nil {
		if err := prometheus.WriteToTextfile(metricsFile, registry); err != nil {
			return errors.Wrap(err, "write metrics").Str("path", metricsFile)
		}
	}
	if collector != nil {
		if viols := collector.Violations(); len(viols) > 0 {
			printViolations(c, img, viols)
			return cli.Exit(fmt.Sprintf("%d violation(s)", len(viols)), exitViolations)
		}
	}
	return nil
}

func printViolations(c *cli.Context, img *heapdump.Image, viols []*verify.Violation) {
	out := c.App.Writer
	for _, viol := range viols {
		fmt.Fprintf(out, "%s: %s", viol.Check, viol.Error())
		if name, ok := img.NameOf(viol.Object); ok {
			fmt.Fprintf(out, " [%s]", name)
		}
		fmt.Fprintln(out)
	}
}

func runLocate(c *cli.Context) error {
	img, err := loadImage(c)
	if err != nil {
		return err
	}
	key, err := img.Lookup(c.String("object"))
	if err != nil {
		return err
	}
	v := newVerifier(img)

	refs, err := v.ScanForSpecificRef(key, !c.Bool("conservative"))
	if err != nil {
		return err
	}
	out := c.App.Writer
	fmt.Fprintf(out, "%d reference(s) to %s\n", len(refs), label(img, key))
	for _, r := range refs {
		fmt.Fprintf(out, "  %s\n", describeReference(img, r))
	}

	if n := c.Int("paths"); n > 0 {
		g := v.HeapGraph()
		for _, p := range graph.PathsToRoots(g, key, n) {
			names := make([]string, 0, len(p.IDs))
			for _, id := range p.IDs {
				names = append(names, label(img, id))
			}
			fmt.Fprintf(out, "path: %s\n", strings.Join(names, " <- "))
		}
	}
	return nil
}

func describeReference(img *heapdump.Image, r verify.Reference) string {
	var s string
	switch r.Kind {
	case verify.InObject:
		s = fmt.Sprintf("object %s (%s) offset %d", label(img, r.Object), r.Class, r.Offset)
	case verify.InRoot, verify.InPinnedRoot:
		s = fmt.Sprintf("%s root %s slot %s", r.RootType, r.Root, r.Slot)
	case verify.OnStack:
		s = fmt.Sprintf("thread %d stack slot %s", r.Thread, r.Slot)
	case verify.InRegister:
		s = fmt.Sprintf("thread %d register %d", r.Thread, r.Register)
	}
	if r.Possible {
		s += " (possible)"
	}
	return s
}

func label(img *heapdump.Image, a heap.Addr) string {
	if name, ok := img.NameOf(a); ok {
		return fmt.Sprintf("%s@%s", name, a)
	}
	return a.String()
}

func runDescribe(c *cli.Context) error {
	img, err := loadImage(c)
	if err != nil {
		return err
	}
	ptr, err := img.Lookup(c.String("addr"))
	if err != nil {
		return err
	}
	d := newVerifier(img).DescribePointer(ptr)
	fmt.Fprintln(c.App.Writer, d.String())
	return nil
}

func runBridge(c *cli.Context) error {
	img, err := loadImage(c)
	if err != nil {
		return err
	}
	v := newVerifier(img, verify.WithAbort(func(*verify.Failure) {}))

	var g *graph.MemGraph
	if ids := c.StringSlice("objects"); len(ids) > 0 {
		objs := make([]heap.Addr, 0, len(ids))
		for _, id := range ids {
			a, err := img.Lookup(id)
			if err != nil {
				return err
			}
			objs = append(objs, a)
		}
		g = v.ObjectGraph(objs)
	} else {
		g = v.HeapGraph()
	}

	tarjan := bridge.FromComponents(g, graph.TarjanSCC(g))
	kosaraju := bridge.FromComponents(g, graph.KosarajuSCC(g))
	if err := v.CompareBridgeResults(tarjan, kosaraju); err != nil {
		return cli.Exit(err.Error(), exitViolations)
	}
	fmt.Fprintf(c.App.Writer, "%d object(s), %d scc(s), %d xref(s): results agree\n", tarjan.Len(), len(tarjan.SCCs), len(tarjan.XRefs))
	return nil
}
