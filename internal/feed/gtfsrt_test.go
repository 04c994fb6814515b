package feed

import (
	"testing"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/protobuf/proto"
)

func vehicleEntity(id, vehicleID, routeID string, lat, lon, speed float32, ts uint64) *gtfsrtpb.FeedEntity {
	vp := &gtfsrtpb.VehiclePosition{
		Trip:     &gtfsrtpb.TripDescriptor{RouteId: proto.String(routeID)},
		Position: &gtfsrtpb.Position{Latitude: proto.Float32(lat), Longitude: proto.Float32(lon), Speed: proto.Float32(speed)},
	}
	if vehicleID != "" {
		vp.Vehicle = &gtfsrtpb.VehicleDescriptor{Id: proto.String(vehicleID)}
	}
	if ts > 0 {
		vp.Timestamp = proto.Uint64(ts)
	}
	return &gtfsrtpb.FeedEntity{Id: proto.String(id), Vehicle: vp}
}

func TestDecodeGTFSRTSnapshot(t *testing.T) {
	header := uint64(1791964800)
	fm := &gtfsrtpb.FeedMessage{
		Header: &gtfsrtpb.FeedHeader{
			GtfsRealtimeVersion: proto.String("2.0"),
			Timestamp:           proto.Uint64(header),
		},
		Entity: []*gtfsrtpb.FeedEntity{
			vehicleEntity("e1", "BUS-1", "R1", 31.5, 74.5, 10, 1791964790),
			vehicleEntity("e2", "", "R2", 31.25, 74.25, 0, 0),
			vehicleEntity("e3", "BUS-3", "", 31.0, 74.0, 5, 0),
			{Id: proto.String("alert-only"), Alert: &gtfsrtpb.Alert{}},
		},
	}
	b, err := proto.Marshal(fm)
	require.NoError(t, err)

	snap, err := DecodeGTFSRTSnapshot(b)
	require.NoError(t, err)
	require.Len(t, snap.Entries, 2)
	assert.Equal(t, 1, snap.Skipped, "vehicle without a route is skipped")

	first := snap.Entries[0]
	assert.Equal(t, "BUS-1", first.VehicleID)
	assert.Equal(t, "R1", first.RouteID)
	assert.Equal(t, 31.5, first.Coordinate.Lat)
	assert.InDelta(t, 36.0, first.SpeedKmh, 1e-4, "m/s converted to km/h")
	assert.Equal(t, time.Unix(1791964790, 0).UTC(), first.Timestamp)

	second := snap.Entries[1]
	assert.Equal(t, "e2", second.VehicleID, "falls back to entity id")
	assert.Equal(t, time.Unix(int64(header), 0).UTC(), second.Timestamp)
}

func TestDecodeGTFSRTSnapshot_Garbage(t *testing.T) {
	_, err := DecodeGTFSRTSnapshot([]byte{0xff, 0xff, 0xff})
	assert.Error(t, err)
}
