package service_test

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/okian/ratingmeter/internal/adapters/backup"
	"github.com/okian/ratingmeter/internal/adapters/repository"
	service "github.com/okian/ratingmeter/internal/app"
	"github.com/okian/ratingmeter/internal/domain/model"
	"github.com/okian/ratingmeter/pkg/logger"
)

func init() {
	// Initialize logging for tests
	err := logger.Init()
	if err != nil {
		panic(err)
	}
}

var testNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newService(opts ...service.Option) (*service.Service, *repository.MemStore) {
	var seq atomic.Int64
	store := repository.NewMemStore()
	opts = append([]service.Option{
		service.WithClock(func() time.Time { return testNow }),
		service.WithIDGenerator(func() string { return fmt.Sprintf("id-%d", seq.Add(1)) }),
	}, opts...)
	return service.New(store, opts...), store
}

func canon(v float64) *float64 { return &v }

type memSink struct{ names []string }

func (m *memSink) Put(_ context.Context, name string, _ []byte) (string, error) {
	m.names = append(m.names, name)
	return "mem://" + name, nil
}

func TestService_Users(t *testing.T) {
	Convey("Given a service", t, func() {
		ctx := context.Background()
		svc, _ := newService()

		Convey("When registering a player", func() {
			u, err := svc.CreateUser(ctx, service.NewUser{Username: "  ann_1 ", Role: model.RolePlayer})

			Convey("Then the user starts with zero points", func() {
				So(err, ShouldBeNil)
				So(u.Username, ShouldEqual, "ann_1")
				So(u.Points, ShouldEqual, 0)
				got, err := svc.GetUser(ctx, u.ID)
				So(err, ShouldBeNil)
				So(got, ShouldResemble, u)
			})

			Convey("And the name cannot be registered again", func() {
				_, err := svc.CreateUser(ctx, service.NewUser{Username: "ann_1", Role: model.RolePlaymaker})
				So(errors.Is(err, model.ErrUsernameTaken), ShouldBeTrue)
			})
		})

		Convey("When the registration is malformed", func() {
			_, shortErr := svc.CreateUser(ctx, service.NewUser{Username: "ab", Role: model.RolePlayer})
			_, roleErr := svc.CreateUser(ctx, service.NewUser{Username: "abc", Role: "admin"})

			Convey("Then it is invalid input", func() {
				So(errors.Is(shortErr, model.ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(roleErr, model.ErrInvalidInput), ShouldBeTrue)
			})
		})

		Convey("When deleting users", func() {
			pm, _ := svc.CreateUser(ctx, service.NewUser{Username: "maker", Role: model.RolePlaymaker})
			p, _ := svc.CreateUser(ctx, service.NewUser{Username: "bob", Role: model.RolePlayer})
			q, _ := svc.CreateUser(ctx, service.NewUser{Username: "cat", Role: model.RolePlayer})

			Convey("Then only playmakers may do it", func() {
				So(errors.Is(svc.DeleteUser(ctx, p.ID, "cat"), model.ErrRoleViolation), ShouldBeTrue)
				So(errors.Is(svc.DeleteUser(ctx, "", "cat"), service.ErrUnauthenticated), ShouldBeTrue)
				So(errors.Is(svc.DeleteUser(ctx, "ghost", "cat"), service.ErrUnauthenticated), ShouldBeTrue)
				So(svc.DeleteUser(ctx, pm.ID, "cat"), ShouldBeNil)
				_, err := svc.GetUser(ctx, q.ID)
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
				So(errors.Is(svc.DeleteUser(ctx, pm.ID, "cat"), model.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestService_Samples(t *testing.T) {
	Convey("Given a playmaker and a player", t, func() {
		ctx := context.Background()
		svc, _ := newService()
		pm, _ := svc.CreateUser(ctx, service.NewUser{Username: "maker", Role: model.RolePlaymaker})
		p, _ := svc.CreateUser(ctx, service.NewUser{Username: "ann", Role: model.RolePlayer})

		Convey("When the playmaker publishes a sample rated zero", func() {
			smp, err := svc.CreateSample(ctx, pm.ID, service.NewSample{Name: "Quiet", CanonicalRating: canon(0)})

			Convey("Then it is stored with its author", func() {
				So(err, ShouldBeNil)
				So(smp.CanonicalRating, ShouldEqual, 0)
				So(smp.CreatedBy, ShouldEqual, pm.ID)
				all, _ := svc.ListSamples(ctx)
				So(len(all), ShouldEqual, 1)
			})
		})

		Convey("When the sample is malformed", func() {
			_, missing := svc.CreateSample(ctx, pm.ID, service.NewSample{Name: "x"})
			_, high := svc.CreateSample(ctx, pm.ID, service.NewSample{Name: "x", CanonicalRating: canon(10.5)})
			_, noName := svc.CreateSample(ctx, pm.ID, service.NewSample{Name: "  ", CanonicalRating: canon(5)})

			Convey("Then it is invalid input", func() {
				So(errors.Is(missing, model.ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(high, model.ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(noName, model.ErrInvalidInput), ShouldBeTrue)
			})
		})

		Convey("When a player tries to publish", func() {
			_, err := svc.CreateSample(ctx, p.ID, service.NewSample{Name: "x", CanonicalRating: canon(5)})

			Convey("Then it is a role violation", func() {
				So(errors.Is(err, model.ErrRoleViolation), ShouldBeTrue)
			})
		})

		Convey("When a rated sample is deleted", func() {
			smp, _ := svc.CreateSample(ctx, pm.ID, service.NewSample{Name: "Loud", CanonicalRating: canon(8.5)})
			_, err := svc.SubmitRating(ctx, p.ID, smp.ID, "8")
			So(err, ShouldBeNil)

			_, playerErr := svc.DeleteSample(ctx, p.ID, smp.ID)
			removed, err := svc.DeleteSample(ctx, pm.ID, smp.ID)

			Convey("Then the rating and its points are withdrawn", func() {
				So(errors.Is(playerErr, model.ErrRoleViolation), ShouldBeTrue)
				So(err, ShouldBeNil)
				So(len(removed), ShouldEqual, 1)
				u, _ := svc.GetUser(ctx, p.ID)
				So(u.Points, ShouldEqual, 0)
				_, err = svc.RatingsBySample(ctx, pm.ID, smp.ID)
				So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
			})
		})
	})
}

func TestService_SubmitRating(t *testing.T) {
	Convey("Given a sample with canonical rating 8.5", t, func() {
		ctx := context.Background()
		svc, _ := newService()
		pm, _ := svc.CreateUser(ctx, service.NewUser{Username: "maker", Role: model.RolePlaymaker})
		p, _ := svc.CreateUser(ctx, service.NewUser{Username: "ann", Role: model.RolePlayer})
		smp, _ := svc.CreateSample(ctx, pm.ID, service.NewSample{Name: "Demo", CanonicalRating: canon(8.5)})

		Convey("When the player guesses 8.0", func() {
			res, err := svc.SubmitRating(ctx, p.ID, smp.ID, "8.0")

			Convey("Then nine points are awarded", func() {
				So(err, ShouldBeNil)
				So(res.Rating.PointsEarned, ShouldEqual, 9)
				So(res.Total, ShouldEqual, 9)
				So(res.Rating.CreatedAt, ShouldEqual, testNow)
			})

			Convey("And the rating appears in both listings", func() {
				byUser, err := svc.RatingsByUser(ctx, p.ID, p.ID)
				So(err, ShouldBeNil)
				So(len(byUser), ShouldEqual, 1)
				bySample, err := svc.RatingsBySample(ctx, p.ID, smp.ID)
				So(err, ShouldBeNil)
				So(bySample[0].ID, ShouldEqual, res.Rating.ID)
			})

			Convey("And other players only see it after rating the sample", func() {
				q, _ := svc.CreateUser(ctx, service.NewUser{Username: "bob", Role: model.RolePlayer})
				_, bySample := svc.RatingsBySample(ctx, q.ID, smp.ID)
				_, byUser := svc.RatingsByUser(ctx, q.ID, p.ID)
				_, anon := svc.RatingsBySample(ctx, "", smp.ID)
				So(errors.Is(bySample, model.ErrRoleViolation), ShouldBeTrue)
				So(errors.Is(byUser, model.ErrRoleViolation), ShouldBeTrue)
				So(errors.Is(anon, service.ErrUnauthenticated), ShouldBeTrue)

				_, err := svc.SubmitRating(ctx, q.ID, smp.ID, "1")
				So(err, ShouldBeNil)
				all, err := svc.RatingsBySample(ctx, q.ID, smp.ID)
				So(err, ShouldBeNil)
				So(len(all), ShouldEqual, 2)
				own, err := svc.RatingsByUser(ctx, pm.ID, p.ID)
				So(err, ShouldBeNil)
				So(len(own), ShouldEqual, 1)
			})

			Convey("And a second guess is a duplicate that changes nothing", func() {
				_, err := svc.SubmitRating(ctx, p.ID, smp.ID, "8.5")
				So(errors.Is(err, model.ErrDuplicateRating), ShouldBeTrue)
				u, _ := svc.GetUser(ctx, p.ID)
				So(u.Points, ShouldEqual, 9)
			})
		})

		Convey("When the submission is rejected", func() {
			_, role := svc.SubmitRating(ctx, pm.ID, smp.ID, "8")
			_, missing := svc.SubmitRating(ctx, p.ID, "nope", "8")
			_, bad := svc.SubmitRating(ctx, p.ID, smp.ID, "eleven")
			_, anon := svc.SubmitRating(ctx, "", smp.ID, "8")

			Convey("Then each failure has its own kind", func() {
				So(errors.Is(role, model.ErrRoleViolation), ShouldBeTrue)
				So(errors.Is(missing, model.ErrNotFound), ShouldBeTrue)
				So(errors.Is(bad, model.ErrInvalidInput), ShouldBeTrue)
				So(errors.Is(anon, service.ErrUnauthenticated), ShouldBeTrue)
			})

			Convey("And the player can still rate afterwards", func() {
				res, err := svc.SubmitRating(ctx, p.ID, smp.ID, "3")
				So(err, ShouldBeNil)
				So(res.Rating.PointsEarned, ShouldEqual, 0)
			})
		})
	})
}

func TestService_Dashboard(t *testing.T) {
	Convey("Given two samples and one rating", t, func() {
		ctx := context.Background()
		svc, _ := newService()
		pm, _ := svc.CreateUser(ctx, service.NewUser{Username: "maker", Role: model.RolePlaymaker})
		p, _ := svc.CreateUser(ctx, service.NewUser{Username: "ann", Role: model.RolePlayer})
		s1, _ := svc.CreateSample(ctx, pm.ID, service.NewSample{Name: "One", CanonicalRating: canon(5)})
		s2, _ := svc.CreateSample(ctx, pm.ID, service.NewSample{Name: "Two", CanonicalRating: canon(6)})
		_, err := svc.SubmitRating(ctx, p.ID, s1.ID, "5")
		So(err, ShouldBeNil)

		Convey("When the player opens the dashboard", func() {
			d, err := svc.Dashboard(ctx, p.ID)

			Convey("Then only the unrated sample and their own rating are listed", func() {
				So(err, ShouldBeNil)
				So(len(d.Samples), ShouldEqual, 1)
				So(d.Samples[0].ID, ShouldEqual, s2.ID)
				So(len(d.Ratings), ShouldEqual, 1)
				So(d.Players, ShouldBeNil)
			})
		})

		Convey("When the playmaker opens the dashboard", func() {
			d, err := svc.Dashboard(ctx, pm.ID)

			Convey("Then everything is listed", func() {
				So(err, ShouldBeNil)
				So(len(d.Samples), ShouldEqual, 2)
				So(len(d.Ratings), ShouldEqual, 1)
				So(len(d.Players), ShouldEqual, 1)
				So(d.Players[0].ID, ShouldEqual, p.ID)
			})
		})

		Convey("When an unknown caller opens the dashboard", func() {
			_, err := svc.Dashboard(ctx, "ghost")
			So(errors.Is(err, service.ErrUnauthenticated), ShouldBeTrue)
		})
	})
}

func TestService_Leaderboard(t *testing.T) {
	Convey("Given players with 20, 20 and 15 points", t, func() {
		ctx := context.Background()
		svc, store := newService(service.WithTopN(2), service.WithMaxLeaderboardLimit(3))
		pm, _ := svc.CreateUser(ctx, service.NewUser{Username: "maker", Role: model.RolePlaymaker})
		ids := map[string]string{}
		for name, pts := range map[string]int{"ann": 20, "bob": 20, "cat": 15, "dan": 0} {
			u, err := svc.CreateUser(ctx, service.NewUser{Username: name, Role: model.RolePlayer})
			So(err, ShouldBeNil)
			_, err = store.IncrementPoints(ctx, u.ID, pts)
			So(err, ShouldBeNil)
			ids[name] = u.ID
		}

		Convey("When asking without a limit", func() {
			lb, err := svc.Leaderboard(ctx, 0, "")

			Convey("Then the configured default applies and ties share a rank", func() {
				So(err, ShouldBeNil)
				So(len(lb.Entries), ShouldEqual, 2)
				So(lb.Entries[0].Username, ShouldEqual, "ann")
				So(lb.Entries[0].Rank, ShouldEqual, 1)
				So(lb.Entries[1].Rank, ShouldEqual, 1)
				So(lb.CurrentUserRank, ShouldEqual, 0)
			})
		})

		Convey("When asking for more than the cap as a trailing player", func() {
			lb, err := svc.Leaderboard(ctx, 50, ids["dan"])

			Convey("Then the list is capped and the caller's rank is still given", func() {
				So(err, ShouldBeNil)
				So(len(lb.Entries), ShouldEqual, 3)
				So(lb.Entries[2].Rank, ShouldEqual, 3)
				So(lb.CurrentUserRank, ShouldEqual, 4)
			})
		})

		Convey("When a playmaker asks", func() {
			lb, err := svc.Leaderboard(ctx, 10, pm.ID)
			So(err, ShouldBeNil)
			So(lb.CurrentUserRank, ShouldEqual, 0)
		})

		Convey("When looking up single ranks", func() {
			e, err := svc.RankOf(ctx, ids["cat"])
			So(err, ShouldBeNil)
			So(e.Rank, ShouldEqual, 3)
			So(e.Username, ShouldEqual, "cat")
			So(e.Points, ShouldEqual, 15)

			_, err = svc.RankOf(ctx, pm.ID)
			So(errors.Is(err, model.ErrRoleViolation), ShouldBeTrue)
			_, err = svc.RankOf(ctx, "ghost")
			So(errors.Is(err, model.ErrNotFound), ShouldBeTrue)
		})
	})
}

func TestService_BackupAndSeed(t *testing.T) {
	Convey("Given a service with a backup sink and demo seeding", t, func() {
		ctx := context.Background()
		sink := &memSink{}
		store := repository.NewMemStore()
		exp := backup.NewExporter(store, sink, backup.WithClock(func() time.Time { return testNow }))
		svc := service.New(store, service.WithBackup(exp, 0), service.WithSeedDemo(true))

		So(svc.Start(ctx), ShouldBeNil)
		defer svc.Stop()

		Convey("Then the demo playmaker and sample exist", func() {
			stats := svc.GetStats(ctx)
			So(stats["started"], ShouldEqual, true)
			So(stats["playmakers"], ShouldEqual, 1)
			So(stats["samples"], ShouldEqual, 1)
			samples, _ := svc.ListSamples(ctx)
			So(samples[0].Name, ShouldEqual, service.DemoSampleName)
			So(samples[0].CanonicalRating, ShouldEqual, service.DemoSampleCanonical)
		})

		Convey("When seeding runs again", func() {
			seeded, err := svc.SeedDemo(ctx)
			So(err, ShouldBeNil)
			So(seeded, ShouldBeFalse)
		})

		Convey("When the demo playmaker takes a backup", func() {
			pm, err := store.GetUserByUsername(ctx, service.DemoPlaymaker)
			So(err, ShouldBeNil)
			res, err := svc.Backup(ctx, pm.ID)

			Convey("Then the document is stored", func() {
				So(err, ShouldBeNil)
				So(res.Records, ShouldEqual, 2)
				So(sink.names, ShouldResemble, []string{"backup_20240501_120000_000.json"})
			})
		})
	})

	Convey("Given a service without a backup sink", t, func() {
		ctx := context.Background()
		svc, _ := newService()
		pm, _ := svc.CreateUser(ctx, service.NewUser{Username: "maker", Role: model.RolePlaymaker})
		p, _ := svc.CreateUser(ctx, service.NewUser{Username: "ann", Role: model.RolePlayer})

		_, playerErr := svc.Backup(ctx, p.ID)
		_, err := svc.Backup(ctx, pm.ID)

		So(errors.Is(playerErr, model.ErrRoleViolation), ShouldBeTrue)
		So(errors.Is(err, service.ErrBackupUnavailable), ShouldBeTrue)
	})
}

func TestService_Lifecycle(t *testing.T) {
	Convey("Given a started service", t, func() {
		ctx := context.Background()
		svc, store := newService(service.WithStatsInterval(5 * time.Millisecond))
		So(svc.Start(ctx), ShouldBeNil)

		Convey("When started twice and stopped twice", func() {
			So(svc.Start(ctx), ShouldBeNil)
			time.Sleep(20 * time.Millisecond)
			svc.Stop()
			svc.Stop()

			Convey("Then the store is closed", func() {
				So(errors.Is(store.CreateUser(ctx, model.User{ID: "x", Username: "xyz"}), repository.ErrClosed), ShouldBeTrue)
				So(svc.GetStats(ctx)["started"], ShouldEqual, false)
			})
		})
	})
}
