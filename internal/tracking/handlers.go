package tracking

import (
	"errors"

	"backend-racesync/internal/race"
	"backend-racesync/internal/route"

	"github.com/gofiber/fiber/v2"
)

func RegisterRoutes(r fiber.Router, svc *Service, authMiddleware fiber.Handler) {
	r.Post("/races/:raceID/events", authMiddleware, func(c *fiber.Ctx) error {
		accepted, err := svc.Publish(c.Context(), c.Params("raceID"), c.Body())
		if errors.Is(err, race.ErrMalformed) {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.Status(fiber.StatusAccepted).JSON(accepted)
	})

	r.Get("/races/:raceID/participants", func(c *fiber.Ctx) error {
		entries, err := svc.Participants(c.Context(), c.Params("raceID"))
		if err != nil {
			return loadError(err)
		}
		if entries == nil {
			entries = []Entry{}
		}
		return c.JSON(entries)
	})

	r.Get("/races/:raceID/paths", func(c *fiber.Ctx) error {
		entries, err := svc.Participants(c.Context(), c.Params("raceID"))
		if err != nil {
			return loadError(err)
		}
		paths := make([]route.Path, 0, len(entries))
		props := make([]route.Properties, 0, len(entries))
		for _, e := range entries {
			paths = append(paths, route.MergeLeg(e.Leg))
			props = append(props, route.Properties(e.Path.Properties))
		}
		fc := route.FormatCollection(paths, props)
		if b, ok := route.Bound(paths...); ok {
			fc.BBox = []float64{b.Min[0], b.Min[1], b.Max[0], b.Max[1]}
		}
		if err := c.JSON(fc); err != nil {
			return err
		}
		c.Set(fiber.HeaderContentType, "application/geo+json")
		return nil
	})
}

func loadError(err error) error {
	if errors.Is(err, ErrStoreUnavailable) {
		return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
	}
	return fiber.NewError(fiber.StatusInternalServerError, err.Error())
}
