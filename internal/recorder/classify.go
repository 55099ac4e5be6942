package recorder

import (
	"github.com/openvas-vts/vts-replay/internal/models"

	"github.com/sirupsen/logrus"
)

// ClassifyAndParse applies the dispatcher once per connection (thread),
// based on its first non-empty client buffer, then parses every pair in
// that connection with the matching detector. Unclassified connections are
// dropped; a pair whose request or response fails to parse is skipped with
// a warning (§4.C).
func ClassifyAndParse(d *Dispatcher, byThread map[uint64][]models.RawMessagePair) map[uint64][]*models.ParsedExchange {
	out, _ := ClassifyAndParseAudited(d, byThread, func(string, uint64, models.OperationDetail) {})
	return out
}

// ClassifyAndParseAudited is ClassifyAndParse plus a "connection_classified"
// audit entry per thread, recording the service name it matched (or the
// drop reason) to the operational audit trail. It also returns the service
// name each classified thread matched, so the caller can key the original
// destination port it recorded per thread into ScanInfo.RecordedPorts (§3).
func ClassifyAndParseAudited(d *Dispatcher, byThread map[uint64][]models.RawMessagePair, audit AuditFunc) (map[uint64][]*models.ParsedExchange, map[uint64]string) {
	out := make(map[uint64][]*models.ParsedExchange, len(byThread))
	serviceByThread := make(map[uint64]string, len(byThread))

	for threadID, pairs := range byThread {
		det := firstDetector(d, pairs)
		if det == nil {
			logrus.WithField("thread_id", threadID).WithField("component", "recorder").Warn("did not match any known service, dropping")
			audit("connection_classified", threadID, models.OperationDetail{Error: "no detector matched"})
			continue
		}
		audit("connection_classified", threadID, models.OperationDetail{Service: det.Name()})
		serviceByThread[threadID] = det.Name()

		var exchanges []*models.ParsedExchange
		for i, pair := range pairs {
			req, err := det.ParseRequest(pair.ClientBytes)
			if err != nil {
				logrus.WithField("thread_id", threadID).WithField("component", "recorder").Warnf("pair=%d request parse failed: %v", i, err)
				continue
			}
			resp, err := det.ParseResponse(pair.ServerBytes)
			if err != nil {
				logrus.WithField("thread_id", threadID).WithField("component", "recorder").Warnf("pair=%d response parse failed: %v", i, err)
				continue
			}
			exchanges = append(exchanges, &models.ParsedExchange{Request: req, Response: resp})
		}
		if len(exchanges) > 0 {
			out[threadID] = exchanges
		}
	}

	return out, serviceByThread
}

// firstDetector classifies a connection from the first pair with a
// non-empty client buffer (§4.C).
func firstDetector(d *Dispatcher, pairs []models.RawMessagePair) ServiceDetector {
	for _, pair := range pairs {
		if len(pair.ClientBytes) == 0 {
			continue
		}
		return d.Classify(pair.ClientBytes)
	}
	return nil
}
