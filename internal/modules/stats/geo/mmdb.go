package geo

import (
	"fmt"
	"net"
	"net/netip"

	"github.com/oschwald/geoip2-golang"
)

// MMDB is a Lookup over a MaxMind City database.
type MMDB struct {
	reader *geoip2.Reader
}

func OpenMMDB(path string) (*MMDB, error) {
	reader, err := geoip2.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open geoip database: %w", err)
	}
	return &MMDB{reader: reader}, nil
}

func (m *MMDB) Lookup(ip netip.Addr) (Location, bool, error) {
	record, err := m.reader.City(net.IP(ip.AsSlice()))
	if err != nil {
		return Location{}, false, err
	}
	if record.Country.IsoCode == "" {
		return Location{}, false, nil
	}
	loc := Location{
		Country:  record.Country.IsoCode,
		City:     record.City.Names["en"],
		Timezone: record.Location.TimeZone,
	}
	if len(record.Subdivisions) > 0 {
		loc.Region = record.Subdivisions[0].Names["en"]
	}
	return loc, true, nil
}

func (m *MMDB) Close() error { return m.reader.Close() }
