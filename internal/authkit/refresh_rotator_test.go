package authkit

import (
	"context"
	"sync"
	"testing"
)

func TestRefreshRotatorConcurrentRotationHasSingleWinner(t *testing.T) {
	const contenders = 8

	for _, factory := range refreshStoreFactories() {
		t.Run(factory.name, func(t *testing.T) {
			store := factory.build(t)
			fixture := newServiceFixture(t, store)
			ctx := context.Background()

			registered, err := fixture.service.Register(ctx, RegisterInput{Email: "race@example.com", Password: "password-1"})
			if err != nil {
				t.Fatalf("register error: %v", err)
			}

			var (
				waitGroup sync.WaitGroup
				start     = make(chan struct{})
				results   = make(chan error, contenders)
				winners   = make(chan TokenPair, contenders)
			)
			for index := 0; index < contenders; index++ {
				waitGroup.Add(1)
				go func() {
					defer waitGroup.Done()
					<-start
					pair, rotateErr := fixture.service.Rotate(ctx, registered.Tokens.RefreshToken)
					if rotateErr == nil {
						winners <- pair
					}
					results <- rotateErr
				}()
			}
			close(start)
			waitGroup.Wait()
			close(results)
			close(winners)

			successes := 0
			for rotateErr := range results {
				if rotateErr == nil {
					successes++
					continue
				}
				if !IsUnauthorized(rotateErr) {
					t.Fatalf("expected unauthorized for losing rotation, got %v", rotateErr)
				}
			}
			if successes != 1 {
				t.Fatalf("expected exactly one successful rotation, got %d", successes)
			}

			winner := <-winners
			if _, err := fixture.service.Rotate(ctx, winner.RefreshToken); err != nil {
				t.Fatalf("expected winner's refresh token to rotate: %v", err)
			}
			if _, err := fixture.service.Rotate(ctx, registered.Tokens.RefreshToken); !IsUnauthorized(err) {
				t.Fatalf("expected consumed token to stay rejected, got %v", err)
			}
		})
	}
}

func TestNewRefreshRotatorRequiresDependencies(t *testing.T) {
	if _, err := NewRefreshRotator(newTestServerConfig(), RotatorDependencies{}); err == nil {
		t.Fatalf("expected error for missing dependencies")
	}
}
