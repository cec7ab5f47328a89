package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/joss/kotoshop/internal/catalog"
	"github.com/joss/kotoshop/internal/domain"
	"github.com/joss/kotoshop/internal/feedback"
	"github.com/joss/kotoshop/internal/render"
)

func productsCmd() *cobra.Command {
	var category, filter string
	cmd := &cobra.Command{
		Use:   "products",
		Short: "List the catalog",
		Long: `List products, optionally narrowed by category and a filter expression.

Expressions see id, name, description, price, category and image_url, plus
lower(s) and contains(s, sub):

  kotoshop products --filter 'price < 30 && contains(name, "cat")'`,
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			if exitOnError(s.Products.Fetch(cmd.Context())) {
				return
			}
			s.Products.SelectCategory(cmd.Context(), category)
			items, err := s.Products.Query(filter)
			if exitOnError(err) {
				return
			}
			emit(items, func() string { return render.New(pretty).Products(items) })
		},
	}
	cmd.Flags().StringVarP(&category, "category", "c", catalog.AllCategories, "Category to show")
	cmd.Flags().StringVarP(&filter, "filter", "f", "", "Filter expression")

	categoriesCmd := &cobra.Command{
		Use:   "categories",
		Short: "List categories",
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			if exitOnError(s.Products.Fetch(cmd.Context())) {
				return
			}
			cats := s.Products.State().Categories()
			emit(cats, func() string { return strings.Join(cats, "\n") + "\n" })
		},
	}
	showCmd := &cobra.Command{
		Use:   "show <product-id>",
		Short: "Show one product",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			id, err := parseID(args[0], "product_id")
			if exitOnError(err) || exitOnError(s.Products.Fetch(cmd.Context())) {
				return
			}
			p, ok := s.Products.Find(id)
			if !ok {
				exitOnError(fmt.Errorf("product %d not found", id))
				return
			}
			emit(p, func() string { return render.New(pretty).Products([]domain.Product{p}) })
		},
	}

	cmd.AddCommand(categoriesCmd, showCmd)
	return cmd
}

func cartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cart",
		Short: "Show or change the cart",
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			if s.SignedIn() {
				if exitOnError(s.Cart.Fetch(cmd.Context())) {
					return
				}
			}
			showCart()
		},
	}

	var quantity int
	addCmd := &cobra.Command{
		Use:   "add <product-id>",
		Short: "Add a product",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			if !requireSession(s) {
				return
			}
			id, err := parseID(args[0], "product_id")
			if exitOnError(err) || exitOnError(s.Cart.Add(cmd.Context(), id, quantity)) {
				return
			}
			s.Wait()
			showCart()
		},
	}
	addCmd.Flags().IntVarP(&quantity, "quantity", "q", 1, "Quantity")

	removeCmd := &cobra.Command{
		Use:   "remove <product-id>",
		Short: "Remove one unit of a product",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			if !requireSession(s) {
				return
			}
			id, err := parseID(args[0], "product_id")
			if exitOnError(err) || exitOnError(s.Cart.Remove(cmd.Context(), id)) {
				return
			}
			s.Wait()
			showCart()
		},
	}

	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Empty the cart",
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			if !requireSession(s) || exitOnError(s.Cart.Clear(cmd.Context())) {
				return
			}
			s.Wait()
			showCart()
		},
	}

	cmd.AddCommand(addCmd, removeCmd, clearCmd)
	return cmd
}

func showCart() {
	snap := shop.Snapshot()
	view := struct {
		Items []domain.CartItem `json:"items"`
		Total float64           `json:"total"`
	}{snap.Cart.Items, snap.CartTotal}
	emit(view, func() string { return render.New(pretty).Cart(snap.Cart) })
}

func checkoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkout <address>",
		Short: `Place an order, address as "city, street, house, apartment"`,
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			if !requireSession(s) {
				return
			}
			address := strings.Join(args, " ")
			if exitOnError(s.Checkout(cmd.Context(), address)) {
				return
			}
			s.Wait()
			st := s.Order.State()
			emit(st.Current, func() string { return render.New(pretty).Orders(st) })
		},
	}
}

func ordersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "orders",
		Short: "Show order history",
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			if !requireSession(s) || exitOnError(s.Order.FetchHistory(cmd.Context())) {
				return
			}
			st := s.Order.State()
			emit(st.History, func() string { return render.New(pretty).Orders(st) })
		},
	}
}

func feedbackCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "feedback",
		Short: "Read and write product reviews",
	}

	listCmd := &cobra.Command{
		Use:   "list <product-id>",
		Short: "Show reviews of a product",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			id, err := parseID(args[0], "product_id")
			if exitOnError(err) || exitOnError(s.Feedback.Fetch(cmd.Context(), id)) {
				return
			}
			showFeedback()
		},
	}

	mineCmd := &cobra.Command{
		Use:   "mine <product-id>",
		Short: "Show your review of a product",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			if !requireSession(s) {
				return
			}
			id, err := parseID(args[0], "product_id")
			if exitOnError(err) || exitOnError(s.Feedback.FetchMine(cmd.Context(), id)) {
				return
			}
			mine := s.Feedback.State().Mine
			emit(mine, func() string {
				if mine == nil || !mine.Exists() {
					return "You have not reviewed this product\n"
				}
				return fmt.Sprintf("[%s] %s %s\n", mine.ID, render.Stars(mine.Rating), mine.Comment)
			})
		},
	}

	var in feedback.Input
	submitCmd := &cobra.Command{
		Use:   "submit <product-id>",
		Short: "Review a product",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			if !requireSession(s) {
				return
			}
			id, err := parseID(args[0], "product_id")
			if exitOnError(err) {
				return
			}
			in.ProductID = id
			if s.Feedback.State().ProductID != id {
				if exitOnError(s.Feedback.Fetch(cmd.Context(), id)) {
					return
				}
			}
			if _, err := s.Feedback.Submit(cmd.Context(), in); exitOnError(err) {
				return
			}
			s.Wait()
			showFeedback()
		},
	}
	submitCmd.Flags().Float64VarP(&in.Rating, "rating", "r", 0, "Rating from 1 to 5, half stars allowed")
	submitCmd.Flags().StringVarP(&in.Comment, "comment", "m", "", "Comment")
	_ = submitCmd.MarkFlagRequired("rating")

	var edit feedback.Input
	editCmd := &cobra.Command{
		Use:   "edit <product-id> <feedback-id>",
		Short: "Change your review",
		Args:  cobra.ExactArgs(2),
		Run: func(cmd *cobra.Command, args []string) {
			s := openStore(cmd.Context())
			if !requireSession(s) {
				return
			}
			id, err := parseID(args[0], "product_id")
			if exitOnError(err) {
				return
			}
			edit.ProductID = id
			edit.ID = domain.FlexID(args[1])
			if exitOnError(s.Feedback.Update(cmd.Context(), edit)) {
				return
			}
			s.Wait()
			showFeedback()
		},
	}
	editCmd.Flags().Float64VarP(&edit.Rating, "rating", "r", 0, "Rating from 1 to 5, half stars allowed")
	editCmd.Flags().StringVarP(&edit.Comment, "comment", "m", "", "Comment")
	_ = editCmd.MarkFlagRequired("rating")

	cmd.AddCommand(listCmd, mineCmd, submitCmd, editCmd)
	return cmd
}

func showFeedback() {
	st := shop.Feedback.State()
	emit(st.Items, func() string { return render.New(pretty).Feedback(st) })
}
