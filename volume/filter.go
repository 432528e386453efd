package volume

import (
	"navtile/common"
	"navtile/nav"
)

// FilterLowHangingWalkableObstacles marks non-walkable spans as walkable when
// a walkable span sits directly below within climb range, so kerbs and low
// debris stay traversable.
func FilterLowHangingWalkableObstacles(walkableClimb int32, hf *Heightfield) {
	w, h := hf.Width, hf.Height
	for z := int32(0); z < h; z++ {
		for x := int32(0); x < w; x++ {
			var prev *Span
			prevWalkable := false
			prevArea := uint8(nav.NullArea)

			for s := hf.Spans[x+z*w]; s != nil; s = s.Next {
				walkable := s.Area != nav.NullArea
				if !walkable && prevWalkable {
					if common.Abs(int32(s.SMax)-int32(prev.SMax)) <= walkableClimb {
						s.Area = prevArea
					}
				}
				// The original flag is kept so walkability cannot
				// propagate through stacked unwalkable objects.
				prevWalkable = walkable
				prevArea = s.Area
				prev = s
			}
		}
	}
}

// FilterLedgeSpans clears spans whose drop to any neighbour exceeds the climb
// height, and spans on steep neighbour height gradients.
func FilterLedgeSpans(walkableHeight, walkableClimb int32, hf *Heightfield) {
	w, h := hf.Width, hf.Height

	for z := int32(0); z < h; z++ {
		for x := int32(0); x < w; x++ {
			for s := hf.Spans[x+z*w]; s != nil; s = s.Next {
				if s.Area == nav.NullArea {
					continue
				}

				bot := int32(s.SMax)
				top := int32(maxHeight)
				if s.Next != nil {
					top = int32(s.Next.SMin)
				}

				minNeighborHeight := int32(maxHeight)
				accessibleMin := int32(s.SMax)
				accessibleMax := int32(s.SMax)

				for dir := int32(0); dir < 4; dir++ {
					dx := x + common.DirOffsetX(dir)
					dz := z + common.DirOffsetY(dir)
					if dx < 0 || dz < 0 || dx >= w || dz >= h {
						minNeighborHeight = common.Min(minNeighborHeight, -walkableClimb-bot)
						continue
					}

					// From minus infinity to the first span.
					ns := hf.Spans[dx+dz*w]
					neighborBot := -walkableClimb
					neighborTop := int32(maxHeight)
					if ns != nil {
						neighborTop = int32(ns.SMin)
					}
					if common.Min(top, neighborTop)-common.Max(bot, neighborBot) > walkableHeight {
						minNeighborHeight = common.Min(minNeighborHeight, neighborBot-bot)
					}

					for ns = hf.Spans[dx+dz*w]; ns != nil; ns = ns.Next {
						neighborBot = int32(ns.SMax)
						neighborTop = int32(maxHeight)
						if ns.Next != nil {
							neighborTop = int32(ns.Next.SMin)
						}
						if common.Min(top, neighborTop)-common.Max(bot, neighborBot) > walkableHeight {
							minNeighborHeight = common.Min(minNeighborHeight, neighborBot-bot)

							if common.Abs(neighborBot-bot) <= walkableClimb {
								if neighborBot < accessibleMin {
									accessibleMin = neighborBot
								}
								if neighborBot > accessibleMax {
									accessibleMax = neighborBot
								}
							}
						}
					}
				}

				if minNeighborHeight < -walkableClimb {
					s.Area = nav.NullArea
				} else if accessibleMax-accessibleMin > walkableClimb {
					// Steep slope across the neighbours.
					s.Area = nav.NullArea
				}
			}
		}
	}
}

// FilterWalkableLowHeightSpans clears the walkable flag from spans without
// enough headroom. A positive crouchHeight lowers the required clearance so
// that crouch passages survive filtering; otherwise the standing height is
// required.
func FilterWalkableLowHeightSpans(walkableHeight, crouchHeight int32, hf *Heightfield) {
	minClearance := walkableHeight
	if crouchHeight > 0 && crouchHeight < walkableHeight {
		minClearance = crouchHeight
	}
	w, h := hf.Width, hf.Height
	for z := int32(0); z < h; z++ {
		for x := int32(0); x < w; x++ {
			for s := hf.Spans[x+z*w]; s != nil; s = s.Next {
				bot := int32(s.SMax)
				top := int32(maxHeight)
				if s.Next != nil {
					top = int32(s.Next.SMin)
				}
				if top-bot < minClearance {
					s.Area = nav.NullArea
				}
			}
		}
	}
}
