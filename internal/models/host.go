package models

// RecordedHost is the sentinel IPv4 address (RFC 5737 TEST-NET-1) written into
// every stored TestCase in place of the real target host. It never appears on
// the wire during replay; the loader substitutes it for the runtime bind host
// when a TestCase is read back.
const RecordedHost = "192.0.2.123"
