// ABOUTME: Differential check of two bridge processors' SCC results
// ABOUTME: A mismatch is a structural violation of the bridge algorithm

package verify

import (
	"github.com/sirupsen/logrus"

	"github.com/prateek/heapcheck/bridge"
)

// CompareBridgeResults checks that b is a relabeling of a. On mismatch both
// results are logged before the violation is reported.
func (v *Verifier) CompareBridgeResults(a, b *bridge.Result) error {
	p := v.begin("bridge")
	if err := bridge.Compare(a, b); err != nil {
		p.dumpBridge("first", a)
		p.dumpBridge("second", b)
		p.report(&Violation{Kind: BridgeMismatch, Detail: err.Error()})
	}
	return p.finish()
}

func (p *pass) dumpBridge(name string, r *bridge.Result) {
	log := p.log.WithField("result", name)
	for i, s := range r.SCCs {
		log.WithFields(logrus.Fields{"scc": i, "objects": s.Objects}).Info("scc")
	}
	for _, x := range r.XRefs {
		log.WithFields(logrus.Fields{"src": x.Src, "dst": x.Dst}).Info("xref")
	}
}
