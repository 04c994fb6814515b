package feed

import (
	"fmt"
	"time"

	gtfsrtpb "github.com/MobilityData/gtfs-realtime-bindings/golang/gtfs"
	"google.golang.org/protobuf/proto"
)

// DecodeGTFSRTSnapshot reads the vehicle entities of a GTFS-Realtime feed.
// Entities without a vehicle position are ignored; vehicle entities missing a
// required field are skipped.
func DecodeGTFSRTSnapshot(b []byte) (Snapshot, error) {
	var fm gtfsrtpb.FeedMessage
	opts := proto.UnmarshalOptions{AllowPartial: true, DiscardUnknown: true}
	if err := opts.Unmarshal(b, &fm); err != nil {
		return Snapshot{}, fmt.Errorf("decode gtfs-rt: %w", err)
	}
	headerTS := fm.GetHeader().GetTimestamp()

	var positions []Position
	for _, e := range fm.GetEntity() {
		vp := e.GetVehicle()
		if vp == nil || e.GetIsDeleted() {
			continue
		}
		p := Position{
			VehicleID: vp.GetVehicle().GetId(),
			RouteID:   vp.GetTrip().GetRouteId(),
		}
		if p.VehicleID == "" {
			p.VehicleID = e.GetId()
		}
		if pos := vp.GetPosition(); pos != nil {
			if pos.Latitude != nil {
				lat := float64(pos.GetLatitude())
				p.Lat = &lat
			}
			if pos.Longitude != nil {
				lng := float64(pos.GetLongitude())
				p.Lng = &lng
			}
			if pos.Speed != nil {
				kmh := float64(pos.GetSpeed()) * 3.6
				p.Speed = &kmh
			}
		}
		ts := vp.GetTimestamp()
		if ts == 0 {
			ts = headerTS
		}
		if ts > 0 {
			p.LastUpdate = time.Unix(int64(ts), 0).UTC().Format(time.RFC3339)
		}
		positions = append(positions, p)
	}
	return BuildSnapshot(positions), nil
}
