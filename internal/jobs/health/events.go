package health

import (
	"slices"
	"strings"
	"time"

	"cloud.google.com/go/servicehealth/apiv1/servicehealthpb"
	"github.com/smallbiznis/cloudcost/internal/pipeline"
	"google.golang.org/protobuf/types/known/timestamppb"
)

const globalRegion = "global"

// event is the parsed form of an organization event.
type event struct {
	fields    map[string]any
	state     string
	detailed  string
	locations []string
	regions   []string
	products  []string
}

func parseEvent(e *servicehealthpb.OrganizationEvent) event {
	var (
		impacts   []any
		locations []string
		products  []string
	)
	for _, impact := range e.GetEventImpacts() {
		product := impact.GetProduct().GetProductName()
		location := impact.GetLocation().GetLocationName()
		impacts = append(impacts, map[string]any{"product": product, "location": location})
		if location != "" && !slices.Contains(locations, location) {
			locations = append(locations, location)
		}
		if product != "" {
			products = append(products, product)
		}
	}
	slices.Sort(locations)
	regions := regionsOf(locations)

	ev := event{
		state:     e.GetState().String(),
		detailed:  e.GetDetailedState().String(),
		locations: locations,
		regions:   regions,
		products:  products,
	}
	ev.fields = map[string]any{
		"event_id":          pipeline.LastSegment(e.GetName()),
		"event_name":        e.GetName(),
		"title":             e.GetTitle(),
		"description":       e.GetDescription(),
		"category":          e.GetCategory().String(),
		"detailed_category": e.GetDetailedCategory().String(),
		"state":             ev.state,
		"detailed_state":    ev.detailed,
		"start_time":        timestamp(e.GetStartTime()),
		"end_time":          timestamp(e.GetEndTime()),
		"update_time":       timestamp(e.GetUpdateTime()),
		"impacts":           impacts,
		"locations":         toAny(locations),
		"affected_regions":  toAny(regions),
	}
	return ev
}

func (ev event) closed() bool {
	return ev.state == "CLOSED" || ev.detailed == "RESOLVED" || ev.detailed == "CLOSED"
}

// regionOf maps a location to its region: the first two dash separated parts,
// so asia-southeast1-a becomes asia-southeast1.
func regionOf(location string) string {
	if strings.EqualFold(location, globalRegion) {
		return globalRegion
	}
	parts := strings.Split(location, "-")
	if len(parts) < 2 {
		return location
	}
	return parts[0] + "-" + parts[1]
}

func regionsOf(locations []string) []string {
	var regions []string
	for _, loc := range locations {
		r := regionOf(loc)
		if !slices.Contains(regions, r) {
			regions = append(regions, r)
		}
	}
	slices.Sort(regions)
	return regions
}

// inRegions reports whether the event touches a monitored region. Events
// without locations are global.
func (ev event) inRegions(monitored []string) bool {
	if len(ev.locations) == 0 {
		return slices.Contains(monitored, globalRegion)
	}
	for _, loc := range ev.locations {
		if slices.Contains(monitored, loc) || slices.Contains(monitored, regionOf(loc)) {
			return true
		}
	}
	return false
}

// hasProduct matches products case-insensitively, by equality or substring.
func (ev event) hasProduct(wanted []string) bool {
	for _, product := range ev.products {
		product = strings.ToLower(product)
		for _, w := range wanted {
			if strings.Contains(product, strings.ToLower(w)) {
				return true
			}
		}
	}
	return false
}

// affected is the region set counted for region status.
func (ev event) affected() []string {
	if len(ev.regions) == 0 {
		return []string{globalRegion}
	}
	return ev.regions
}

func timestamp(ts *timestamppb.Timestamp) any {
	if ts == nil {
		return nil
	}
	return ts.AsTime().UTC().Format(time.RFC3339)
}

func toAny(in []string) []any {
	out := make([]any, len(in))
	for i, s := range in {
		out[i] = s
	}
	return out
}
